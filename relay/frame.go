package relay

import (
	"bytes"
	"encoding/json"
)

// FrameKind 上游行的分类
type FrameKind int

const (
	FrameIgnored   FrameKind = iota // 没有 data: 前缀，keep-alive / 注释 / 空行
	FramePayload                    // 合法 JSON
	FrameSentinel                   // [DONE]
	FrameMalformed                  // 有前缀但无法解析
)

const sentinel = "[DONE]"

// Frame 上游的一行
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// ParseFrame 分类一行上游数据。Payload 与 line 共享内存。
func ParseFrame(line []byte) Frame {
	payload, ok := bytes.CutPrefix(line, framePrefix)
	if !ok {
		return Frame{Kind: FrameIgnored}
	}
	if string(bytes.TrimSpace(payload)) == sentinel {
		return Frame{Kind: FrameSentinel}
	}
	if !json.Valid(payload) {
		return Frame{Kind: FrameMalformed, Payload: payload}
	}
	return Frame{Kind: FramePayload, Payload: payload}
}
