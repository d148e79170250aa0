package relay

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	ErrMalformedRequest   = errors.New("malformed request")
	ErrMissingCredential  = errors.New("missing credential")
	ErrUpstreamConnect    = errors.New("upstream connect failure")
	ErrUpstreamStatus     = errors.New("upstream status failure")
	ErrUpstreamStream     = errors.New("upstream stream failure")
	ErrMalformedFrame     = errors.New("malformed upstream frame")
	ErrInternal           = errors.New("internal failure")
	ErrDownstreamGone     = errors.New("downstream closed")
	errUpstreamIdle       = errors.New("upstream read timed out")
	errUpstreamIncomplete = errors.New("upstream closed the stream before completion")
)

// Failure 带分类和面向客户端消息的错误
type Failure struct {
	Kind    error  // 上面的分类之一
	Message string // 返回给客户端的消息
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%v: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() []error {
	if f.Cause != nil {
		return []error{f.Kind, f.Cause}
	}
	return []error{f.Kind}
}

func newFailure(kind error, cause error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ClientMessage 返回可以直接给客户端看的错误消息
func ClientMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return fmt.Sprintf("Server error: %v", err)
}
