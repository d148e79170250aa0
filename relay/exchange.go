package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Exchange 一次"读请求、写流式响应"的交换。
// 原生 HTTP 服务和按请求调用的函数入口各自实现它，共享同一个 Relay。
type Exchange interface {
	Context() context.Context
	Body() io.Reader
	Header() http.Header
	WriteHeader(status int)
	Write(p []byte) (int, error)
	// Flush 把已写出的数据推给客户端，连接已断开时返回错误
	Flush() error
}

// ErrorResponse 流开始之前的 HTTP 错误响应体
type ErrorResponse struct {
	Error string `json:"error"`
}

// Serve 处理一次聊天请求。流开始前的失败以 HTTP 500 + JSON 返回；
// 之后的失败只能以 Error 事件出现在流里。返回 nil 表示流没有开始。
func (r *Relay) Serve(ex Exchange) *Session {
	body, err := io.ReadAll(io.LimitReader(ex.Body(), maxRequestBody+1))
	if err != nil {
		r.writeError(ex, newFailure(ErrMalformedRequest, err, "Invalid request body: %v", err))
		return nil
	}
	if len(body) > maxRequestBody {
		r.writeError(ex, newFailure(ErrMalformedRequest, nil,
			"Invalid request body: request body too large (limit %d bytes)", maxRequestBody))
		return nil
	}

	call, err := r.Translate(body)
	if err != nil {
		r.writeError(ex, err)
		return nil
	}

	s := NewSession(&exchangeWriter{ex: ex})

	h := ex.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Relay-Session", s.ID)
	ex.WriteHeader(http.StatusOK)
	if err := ex.Flush(); err != nil {
		r.logger.Debug("flush response headers", "session", s.ID, "error", err)
	}

	r.Run(ex.Context(), s, call)
	return s
}

func (r *Relay) writeError(ex Exchange, err error) {
	r.logger.Error("reject chat request", "error", err)
	ex.Header().Set("Content-Type", "application/json")
	ex.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(ex).Encode(ErrorResponse{Error: ClientMessage(err)})
}

// exchangeWriter 每个事件写完立即冲刷
type exchangeWriter struct {
	ex Exchange
}

func (w *exchangeWriter) WriteEvent(e Event) error {
	if _, err := e.WriteTo(w.ex); err != nil {
		return fmt.Errorf("%w: %v", ErrDownstreamGone, err)
	}
	if err := w.ex.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrDownstreamGone, err)
	}
	return nil
}
