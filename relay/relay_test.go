package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagaking/chat-relay/plugin"
)

const chatBody = `{"messages":[{"role":"user","content":"hi"}]}`

// recorder 收集下游事件；failAt > 0 时第 failAt 次写入失败
type recorder struct {
	events []Event
	writes int
	failAt int
}

func (r *recorder) WriteEvent(e Event) error {
	r.writes++
	if r.failAt > 0 && r.writes >= r.failAt {
		return fmt.Errorf("%w: broken pipe", ErrDownstreamGone)
	}
	e.Payload = append([]byte(nil), e.Payload...)
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds() []EventKind {
	kinds := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// upstream 记录收到的请求
type upstream struct {
	*httptest.Server
	mu      sync.Mutex
	header  http.Header
	payload map[string]any
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.header = r.Header.Clone()
		u.payload = body
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) conf() UpstreamConfig {
	return UpstreamConfig{
		Endpoint:   u.URL + "/v1",
		Credential: "sk-test",
		Model:      "test-model",
		Timeout:    2 * time.Second,
	}
}

// streamLines 按行写出并逐行冲刷
func streamLines(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			_, _ = io.WriteString(w, line+"\n")
			w.(http.Flusher).Flush()
		}
	}
}

func runSession(t *testing.T, rl *Relay, out EventWriter) *Session {
	t.Helper()
	call, err := rl.Translate([]byte(chatBody))
	require.NoError(t, err)
	return rl.Stream(context.Background(), call, out)
}

func TestRelayStreamsChunksThenDone(t *testing.T) {
	chunk1 := `{"id":"c1","choices":[{"delta":{"content":"Hel"}}]}`
	chunk2 := `{"id":"c1","choices":[{"delta":{"content":"lo"}}]}`
	up := newUpstream(t, streamLines(
		"data: "+chunk1, "",
		"data: "+chunk2, "",
		"data: [DONE]", "",
	))

	doneBefore := testutil.ToFloat64(SessionsTotal.WithLabelValues(OutcomeDone))

	out := &recorder{}
	s := runSession(t, New(up.conf()), out)

	require.Equal(t, []EventKind{EventChunk, EventChunk, EventDone}, out.kinds())
	assert.Equal(t, chunk1, string(out.events[0].Payload))
	assert.Equal(t, chunk2, string(out.events[1].Payload))

	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, OutcomeDone, s.Outcome())
	assert.Equal(t, 2, s.Chunks())
	assert.NoError(t, s.Err())
	assert.Equal(t, doneBefore+1, testutil.ToFloat64(SessionsTotal.WithLabelValues(OutcomeDone)))

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, "Bearer sk-test", up.header.Get("Authorization"))
	assert.Equal(t, "test-model", up.payload["model"])
	assert.Equal(t, true, up.payload["stream"])
	assert.Equal(t, float64(DefaultMaxTokens), up.payload["max_tokens"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "hi"}}, up.payload["messages"])
}

func TestRelayDropsMalformedFramesInOrder(t *testing.T) {
	up := newUpstream(t, streamLines(
		": keep-alive",
		`data: {"n":1}`,
		`data: {"n":`,
		"event: ping",
		`data: {"n":2}`,
		`data: garbage`,
		`data: {"n":3}`,
		"data: [DONE]",
	))

	dropped := testutil.ToFloat64(FramesDropped)

	out := &recorder{}
	s := runSession(t, New(up.conf()), out)

	require.Equal(t, []EventKind{EventChunk, EventChunk, EventChunk, EventDone}, out.kinds())
	for i, e := range out.events[:3] {
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i+1), string(e.Payload))
	}
	assert.Equal(t, 2, s.Dropped())
	assert.Equal(t, dropped+2, testutil.ToFloat64(FramesDropped))
}

func TestRelayPassesPayloadBytesThrough(t *testing.T) {
	payloads := []string{
		`{ "b": 1, "a": "x" }`,
		`{"unicode":"你好","nested":{"k":[1,2.50,null]}}`,
		`{"z":true}`,
	}
	lines := make([]string, 0, len(payloads)+1)
	for _, p := range payloads {
		lines = append(lines, "data: "+p)
	}
	lines = append(lines, "data: [DONE]")
	up := newUpstream(t, streamLines(lines...))

	for i := 0; i < 2; i++ {
		out := &recorder{}
		runSession(t, New(up.conf()), out)
		require.Len(t, out.events, len(payloads)+1)
		for j, p := range payloads {
			assert.Equal(t, p, string(out.events[j].Payload))
		}
	}
}

func TestRelayNothingAfterDone(t *testing.T) {
	up := newUpstream(t, streamLines(
		`data: {"n":1}`,
		"data: [DONE]",
		`data: {"n":2}`,
		"data: [DONE]",
	))

	out := &recorder{}
	runSession(t, New(up.conf()), out)
	assert.Equal(t, []EventKind{EventChunk, EventDone}, out.kinds())
}

func TestRelayUpstreamStatusFailure(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	out := &recorder{}
	s := runSession(t, New(up.conf()), out)

	require.Equal(t, []EventKind{EventError}, out.kinds())
	assert.Contains(t, out.events[0].Message, "429")
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrUpstreamStatus)
}

func TestRelayConnectRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	conf := UpstreamConfig{Endpoint: srv.URL, Credential: "sk-test", Model: "m", Timeout: time.Second}
	srv.Close()

	out := &recorder{}
	s := runSession(t, New(conf), out)

	require.Equal(t, []EventKind{EventError}, out.kinds())
	assert.True(t, strings.HasPrefix(out.events[0].Message, "Request failed:"), out.events[0].Message)
	assert.ErrorIs(t, s.Err(), ErrUpstreamConnect)
	assert.Equal(t, StateFailed, s.State())
}

func TestRelayTimeoutBeforeFirstByte(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	conf := up.conf()
	conf.Timeout = 100 * time.Millisecond

	out := &recorder{}
	s := runSession(t, New(conf), out)

	require.Equal(t, []EventKind{EventError}, out.kinds())
	assert.Contains(t, out.events[0].Message, "timed out")
	assert.ErrorIs(t, s.Err(), ErrUpstreamConnect)
}

func TestRelayTimeoutMidStream(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: {\"n\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	conf := up.conf()
	conf.Timeout = 200 * time.Millisecond

	out := &recorder{}
	s := runSession(t, New(conf), out)

	require.Equal(t, []EventKind{EventChunk, EventError}, out.kinds())
	assert.Equal(t, "Request timed out", out.events[1].Message)
	assert.ErrorIs(t, s.Err(), ErrUpstreamStream)
}

func TestRelayUpstreamClosesWithoutSentinel(t *testing.T) {
	up := newUpstream(t, streamLines(`data: {"n":1}`))

	out := &recorder{}
	s := runSession(t, New(up.conf()), out)

	require.Equal(t, []EventKind{EventChunk, EventError}, out.kinds())
	assert.ErrorIs(t, s.Err(), ErrUpstreamStream)
}

func TestRelayDownstreamGoneCancelsUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.WriteHeader(http.StatusOK)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: {\"n\":%d}\n\n", i); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	abandoned := testutil.ToFloat64(SessionsTotal.WithLabelValues(OutcomeAbandoned))

	out := &recorder{failAt: 2}
	s := runSession(t, New(up.conf()), out)

	assert.Equal(t, []EventKind{EventChunk}, out.kinds())
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, OutcomeAbandoned, s.Outcome())
	assert.ErrorIs(t, s.Err(), ErrDownstreamGone)
	assert.Equal(t, abandoned+1, testutil.ToFloat64(SessionsTotal.WithLabelValues(OutcomeAbandoned)))

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not cancelled after the client went away")
	}
}

func TestRelayClientContextCancelled(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	call, err := Translate([]byte(chatBody), up.conf())
	require.NoError(t, err)

	out := &recorder{}
	s := New(up.conf()).Stream(ctx, call, out)

	assert.Empty(t, out.events)
	assert.Equal(t, OutcomeAbandoned, s.Outcome())
}

// panicWriter 第一次写 Chunk 时 panic
type panicWriter struct {
	recorder
	panicked bool
}

func (p *panicWriter) WriteEvent(e Event) error {
	if e.Kind == EventChunk && !p.panicked {
		p.panicked = true
		panic("boom")
	}
	return p.recorder.WriteEvent(e)
}

func TestRelayRecoversPanic(t *testing.T) {
	up := newUpstream(t, streamLines(`data: {"n":1}`, "data: [DONE]"))

	call, err := Translate([]byte(chatBody), up.conf())
	require.NoError(t, err)

	out := &panicWriter{}
	s := New(up.conf()).Stream(context.Background(), call, out)

	require.Equal(t, []EventKind{EventError}, out.kinds())
	assert.Equal(t, "Server error: boom", out.events[0].Message)
	assert.ErrorIs(t, s.Err(), ErrInternal)
}

func TestRelayPlugins(t *testing.T) {
	up := newUpstream(t, streamLines("data: [DONE]"))

	rl := New(up.conf())
	hp := plugin.NewHeaderPlugin(NopLogger())
	hp.AddHeader("x-team", "chat")
	hp.AddHeader("Authorization", "Bearer stolen")
	rl.RegisterPlugin(hp)
	rl.RegisterPlugin(plugin.NewLogPlugin(NopLogger()))

	out := &recorder{}
	runSession(t, rl, out)

	assert.Equal(t, []EventKind{EventDone}, out.kinds())
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, "chat", up.header.Get("X-Team"))
	assert.Equal(t, "Bearer sk-test", up.header.Get("Authorization"))
}

type failingPlugin struct{}

func (failingPlugin) BeforeRequest(*http.Request) error  { return errors.New("quota exceeded") }
func (failingPlugin) AfterResponse(*http.Response) error { return nil }
func (failingPlugin) Configure(json.RawMessage) error    { return nil }

func TestRelayPluginErrorIsInternal(t *testing.T) {
	up := newUpstream(t, streamLines("data: [DONE]"))

	rl := New(up.conf())
	rl.RegisterPlugin(failingPlugin{})

	out := &recorder{}
	s := runSession(t, rl, out)

	require.Equal(t, []EventKind{EventError}, out.kinds())
	assert.Equal(t, "Server error: quota exceeded", out.events[0].Message)
	assert.ErrorIs(t, s.Err(), ErrInternal)
}

func TestRelayConcurrentSessionsAreIndependent(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		streamLines(`data: {"n":1}`, `data: {"n":2}`, "data: [DONE]")(w, r)
	})
	rl := New(up.conf())

	var wg sync.WaitGroup
	results := make([]*recorder, 8)
	for i := range results {
		results[i] = &recorder{}
		wg.Add(1)
		go func(out *recorder) {
			defer wg.Done()
			call, err := rl.Translate([]byte(chatBody))
			if err != nil {
				return
			}
			rl.Stream(context.Background(), call, out)
		}(results[i])
	}
	wg.Wait()

	for _, out := range results {
		assert.Equal(t, []EventKind{EventChunk, EventChunk, EventDone}, out.kinds())
	}
}

// alwaysPanicWriter 每次写都 panic
type alwaysPanicWriter struct{}

func (alwaysPanicWriter) WriteEvent(Event) error { panic("broken writer") }

func TestRelayPanicWhileReportingPanic(t *testing.T) {
	up := newUpstream(t, streamLines(`data: {"n":1}`, "data: [DONE]"))

	s := runSession(t, New(up.conf()), alwaysPanicWriter{})

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, OutcomeAbandoned, s.Outcome())
	assert.ErrorIs(t, s.Err(), ErrDownstreamGone)
}

func TestRelayDropsOversizedLine(t *testing.T) {
	big := `data: {"big":"` + strings.Repeat("x", 2*maxFrameSize) + `"}`
	comment := ": " + strings.Repeat("p", 2*maxFrameSize)
	up := newUpstream(t, streamLines(`data: {"a":1}`, big, comment, `data: {"b":2}`, "data: [DONE]"))

	out := &recorder{}
	s := runSession(t, New(up.conf()), out)

	require.Equal(t, []EventKind{EventChunk, EventChunk, EventDone}, out.kinds())
	assert.Equal(t, `{"a":1}`, string(out.events[0].Payload))
	assert.Equal(t, `{"b":2}`, string(out.events[1].Payload))
	assert.Equal(t, OutcomeDone, s.Outcome())
	assert.Equal(t, 1, s.Dropped())
}

// slowWriter 每次写下游前先等待 delay
type slowWriter struct {
	recorder
	delay time.Duration
}

func (w *slowWriter) WriteEvent(e Event) error {
	time.Sleep(w.delay)
	return w.recorder.WriteEvent(e)
}

func TestRelaySlowDownstreamIsNotUpstreamTimeout(t *testing.T) {
	up := newUpstream(t, streamLines(`data: {"n":1}`, `data: {"n":2}`, "data: [DONE]"))
	conf := up.conf()
	conf.Timeout = 200 * time.Millisecond

	out := &slowWriter{delay: 300 * time.Millisecond}
	s := runSession(t, New(conf), out)

	require.Equal(t, []EventKind{EventChunk, EventChunk, EventDone}, out.kinds())
	assert.Equal(t, OutcomeDone, s.Outcome())
	assert.NoError(t, s.Err())
}
