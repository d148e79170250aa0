package relay

import (
	"encoding/json"
	"io"
)

// EventKind 下游事件类型
type EventKind int

const (
	EventChunk EventKind = iota
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event 发给客户端的一个事件
type Event struct {
	Kind    EventKind
	Payload []byte // EventChunk: 上游原始 JSON
	Message string // EventError
}

// Terminal 是否为终止事件
func (e Event) Terminal() bool {
	return e.Kind != EventChunk
}

func ChunkEvent(payload []byte) Event { return Event{Kind: EventChunk, Payload: payload} }
func DoneEvent() Event                { return Event{Kind: EventDone} }
func ErrorEvent(msg string) Event     { return Event{Kind: EventError, Message: msg} }

var (
	framePrefix     = []byte("data: ")
	frameTerminator = []byte("\n\n")
)

// Body 事件的 JSON 内容
func (e Event) Body() ([]byte, error) {
	switch e.Kind {
	case EventChunk:
		return e.Payload, nil
	case EventDone:
		return json.Marshal(struct {
			Done bool `json:"done"`
		}{Done: true})
	default:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: e.Message})
	}
}

// Encode 把事件编码为 "data: <json>\n\n" 一帧
func (e Event) Encode() ([]byte, error) {
	body, err := e.Body()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(framePrefix)+len(body)+len(frameTerminator))
	frame = append(frame, framePrefix...)
	frame = append(frame, body...)
	frame = append(frame, frameTerminator...)
	return frame, nil
}

// WriteTo 编码并一次性写出
func (e Event) WriteTo(w io.Writer) (int64, error) {
	frame, err := e.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(frame)
	return int64(n), err
}
