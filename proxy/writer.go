package proxy

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// streamResponseWriter 把 gin.Context 适配为 relay.Exchange
type streamResponseWriter struct {
	c *gin.Context
}

func newStreamResponseWriter(c *gin.Context) *streamResponseWriter {
	return &streamResponseWriter{c: c}
}

func (w *streamResponseWriter) Context() context.Context {
	return w.c.Request.Context()
}

func (w *streamResponseWriter) Body() io.Reader {
	return w.c.Request.Body
}

func (w *streamResponseWriter) Header() http.Header {
	return w.c.Writer.Header()
}

func (w *streamResponseWriter) WriteHeader(code int) {
	w.c.Writer.WriteHeader(code)
}

// Write 实现 io.Writer
func (w *streamResponseWriter) Write(data []byte) (int, error) {
	return w.c.Writer.Write(data)
}

// Flush gin 的 Flush 不报告错误，用请求上下文判断客户端是否还在
func (w *streamResponseWriter) Flush() error {
	if err := w.c.Request.Context().Err(); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// httpExchange 把标准库的 ResponseWriter 适配为 relay.Exchange，用于按请求调用的入口
type httpExchange struct {
	w  http.ResponseWriter
	r  *http.Request
	rc *http.ResponseController
}

func newHTTPExchange(w http.ResponseWriter, r *http.Request) *httpExchange {
	return &httpExchange{w: w, r: r, rc: http.NewResponseController(w)}
}

func (e *httpExchange) Context() context.Context       { return e.r.Context() }
func (e *httpExchange) Body() io.Reader                { return e.r.Body }
func (e *httpExchange) Header() http.Header            { return e.w.Header() }
func (e *httpExchange) WriteHeader(code int)           { e.w.WriteHeader(code) }
func (e *httpExchange) Write(data []byte) (int, error) { return e.w.Write(data) }

func (e *httpExchange) Flush() error {
	if err := e.r.Context().Err(); err != nil {
		return err
	}
	return e.rc.Flush()
}
