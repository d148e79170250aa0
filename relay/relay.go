package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	pluginPKG "github.com/bagaking/chat-relay/plugin"
)

const (
	maxRequestBody = 8 << 20
	maxFrameSize   = 1 << 20
)

// Relay 把上游的流式响应转写成下游事件流。配置只读，可被并发会话共享。
type Relay struct {
	conf    UpstreamConfig
	client  *http.Client
	plugins []pluginPKG.Plugin
	logger  Logger
	mu      sync.RWMutex
}

type Option func(*Relay)

func WithLogger(logger Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithTransport 替换上游传输层
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Relay) { r.client = &http.Client{Transport: rt} }
}

// New 创建 Relay
func New(conf UpstreamConfig, opts ...Option) *Relay {
	if conf.MaxTokens <= 0 {
		conf.MaxTokens = DefaultMaxTokens
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	r := &Relay{
		conf:    conf,
		plugins: make([]pluginPKG.Plugin, 0),
		logger:  NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		// 不设 Client.Timeout，流可以很长，超时由 idle 计时器控制
		r.client = &http.Client{Transport: NewTransport(conf.Timeout, r.logger)}
	}
	return r
}

// Config 只读配置
func (r *Relay) Config() UpstreamConfig {
	return r.conf
}

// RegisterPlugin 注册插件
func (r *Relay) RegisterPlugin(plugin pluginPKG.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, plugin)
}

func (r *Relay) snapshotPlugins() []pluginPKG.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]pluginPKG.Plugin(nil), r.plugins...)
}

// Translate 用 Relay 的配置翻译请求
func (r *Relay) Translate(body []byte) (*UpstreamCall, error) {
	return Translate(body, r.conf)
}

// Stream 为 call 新建会话并运行到终止
func (r *Relay) Stream(ctx context.Context, call *UpstreamCall, out EventWriter) *Session {
	s := NewSession(out)
	r.Run(ctx, s, call)
	return s
}

// Run 驱动会话状态机：连接上游，逐行读取，转写，直到写出唯一的终止事件。
// ctx 取消（客户端断开）时上游连接随之关闭。
func (r *Relay) Run(ctx context.Context, s *Session, call *UpstreamCall) {
	SessionsActive.Inc()
	defer SessionsActive.Dec()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idle := newIdleTimer(r.conf.Timeout, func() { cancel(errUpstreamIdle) })
	defer idle.Stop()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("relay panic", "session", s.ID, "panic", rec, "stack", string(debug.Stack()))
			failAfterPanic(s, rec)
		}
		s.closeUpstream()
		r.finish(s)
	}()

	s.state = StateConnecting
	resp, err := r.connect(ctx, call)
	if err != nil {
		s.fail(err)
		return
	}
	s.body = resp.Body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.fail(newFailure(ErrUpstreamStatus, nil, "API request failed with status %d", resp.StatusCode))
		return
	}

	s.state = StateStreaming
	idle.Reset()

	// 计时器只统计等待上游的时间，向下游写出期间暂停
	lines := newLineReader(s.body, maxFrameSize, idle.Reset)
	for {
		line, oversized, err := lines.Next()
		// 读错误时返回的半行不处理
		if len(line) > 0 && (err == nil || err == io.EOF) {
			var frame Frame
			if oversized {
				frame = oversizedFrame(line)
			} else {
				frame = ParseFrame(line)
			}

			switch frame.Kind {
			case FrameMalformed:
				s.dropped++
				FramesDropped.Inc()
				r.logger.Debug("drop frame", "session", s.ID, "error", ErrMalformedFrame,
					"oversized", oversized, "payload", string(frame.Payload))
			case FrameSentinel:
				idle.Stop()
				s.done()
				return
			case FramePayload:
				idle.Stop()
				werr := s.emit(frame.Payload)
				idle.Reset()
				if werr != nil {
					cancel(ErrDownstreamGone)
					s.abandon(werr)
					return
				}
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			s.fail(classify(ctx, err, ErrUpstreamStream))
			return
		}
	}

	s.fail(newFailure(ErrUpstreamStream, errUpstreamIncomplete, "Upstream closed the stream before completion"))
}

// connect INIT -> CONNECTING，返回的错误都是 *Failure
func (r *Relay) connect(ctx context.Context, call *UpstreamCall) (*http.Response, error) {
	payload, err := json.Marshal(call.Payload)
	if err != nil {
		return nil, newFailure(ErrInternal, err, "Server error: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, newFailure(ErrInternal, err, "Server error: %v", err)
	}
	req.Header = call.Header.Clone()

	plugins := r.snapshotPlugins()
	for _, plugin := range plugins {
		if err := plugin.BeforeRequest(req); err != nil {
			return nil, newFailure(ErrInternal, err, "Server error: %v", err)
		}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		UpstreamRequestsTotal.WithLabelValues("error").Inc()
		return nil, classify(ctx, err, ErrUpstreamConnect)
	}
	UpstreamFirstByte.Observe(time.Since(start).Seconds())
	UpstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	for _, plugin := range plugins {
		if err := plugin.AfterResponse(resp); err != nil {
			resp.Body.Close()
			return nil, newFailure(ErrInternal, err, "Server error: %v", err)
		}
	}
	return resp, nil
}

// failAfterPanic 写出 Error 事件；写的时候再次 panic 就当作下游已断开
func failAfterPanic(s *Session, rec any) {
	defer func() {
		if again := recover(); again != nil {
			s.abandon(fmt.Errorf("%w: %v", ErrDownstreamGone, again))
		}
	}()
	s.fail(newFailure(ErrInternal, fmt.Errorf("%v", rec), "Server error: %v", rec))
}

// classify 把传输层错误映射到对应分类和客户端消息
func classify(ctx context.Context, err error, kind error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errUpstreamIdle):
		return newFailure(kind, errUpstreamIdle, "Request timed out")
	case errors.Is(cause, ErrDownstreamGone):
		return newFailure(ErrDownstreamGone, err, "client disconnected")
	case ctx.Err() != nil:
		// 外层 ctx 被取消，客户端已经走了
		return newFailure(ErrDownstreamGone, cause, "client disconnected")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFailure(kind, err, "Request timed out")
	}
	return newFailure(kind, err, "Request failed: %v", err)
}

func (r *Relay) finish(s *Session) {
	SessionsTotal.WithLabelValues(s.outcome).Inc()
	args := []any{
		"session", s.ID,
		"state", s.state.String(),
		"outcome", s.outcome,
		"chunks", s.chunks,
		"dropped", s.dropped,
		"duration", time.Since(s.started),
	}
	if s.err != nil && s.outcome == OutcomeError {
		r.logger.Error("session failed", append(args, "error", s.err)...)
		return
	}
	if s.err != nil {
		args = append(args, "error", s.err)
	}
	r.logger.Info("session finished", args...)
}

// idleTimer 在 d 时间内没有上游进展时触发
type idleTimer struct {
	t *time.Timer
	d time.Duration
}

func newIdleTimer(d time.Duration, fn func()) *idleTimer {
	return &idleTimer{t: time.AfterFunc(d, fn), d: d}
}

func (i *idleTimer) Reset() { i.t.Reset(i.d) }
func (i *idleTimer) Stop()  { i.t.Stop() }
