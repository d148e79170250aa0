package relay

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// State 会话生命周期
type State int

const (
	StateInit State = iota
	StateConnecting
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// EventWriter 下游写出通道。WriteEvent 返回前必须写完并冲刷，不能持有 Payload。
type EventWriter interface {
	WriteEvent(Event) error
}

// Session 一次客户端到上游的配对，不跨请求共享
type Session struct {
	ID string

	state   State
	out     EventWriter
	body    io.ReadCloser
	started time.Time

	chunks  int
	dropped int
	outcome string
	err     error
}

// NewSession 创建处于 INIT 状态的会话
func NewSession(out EventWriter) *Session {
	return &Session{
		ID:      uuid.NewString(),
		state:   StateInit,
		out:     out,
		started: time.Now(),
	}
}

func (s *Session) State() State    { return s.state }
func (s *Session) Outcome() string { return s.outcome }
func (s *Session) Chunks() int     { return s.chunks }
func (s *Session) Dropped() int    { return s.dropped }

// Err 会话失败的原因，成功时为 nil
func (s *Session) Err() error { return s.err }

// emit 写出一个 Chunk
func (s *Session) emit(payload []byte) error {
	if err := s.out.WriteEvent(ChunkEvent(payload)); err != nil {
		return err
	}
	s.chunks++
	ChunksRelayed.Inc()
	return nil
}

// done STREAMING -> DONE
func (s *Session) done() {
	if s.state.Terminal() {
		return
	}
	if err := s.out.WriteEvent(DoneEvent()); err != nil {
		s.abandon(err)
		return
	}
	s.state = StateDone
	s.outcome = OutcomeDone
}

// fail 任意非终止状态 -> FAILED，最多写出一个 Error 事件
func (s *Session) fail(err error) {
	if s.state.Terminal() {
		return
	}
	if errors.Is(err, ErrDownstreamGone) {
		s.abandon(err)
		return
	}
	s.state = StateFailed
	s.outcome = OutcomeError
	s.err = err
	if werr := s.out.WriteEvent(ErrorEvent(ClientMessage(err))); werr != nil {
		s.outcome = OutcomeAbandoned
		s.err = errors.Join(err, werr)
	}
}

// abandon 客户端已断开，不再写任何事件
func (s *Session) abandon(err error) {
	s.state = StateFailed
	s.outcome = OutcomeAbandoned
	s.err = err
}

// closeUpstream 关闭上游读端
func (s *Session) closeUpstream() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}
