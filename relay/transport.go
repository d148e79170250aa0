package relay

import (
	"net"
	"net/http"
	"time"
)

// LoggingTransport 记录上游请求的传输层，不读取流式响应体
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// Authorization 不进日志
	t.Logger.Info("upstream request", "method", req.Method, "url", req.URL.String())

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Error("upstream request failed", "url", req.URL.String(), "error", err, "duration", time.Since(start))
		return nil, err
	}

	t.Logger.Info("upstream response",
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"duration", time.Since(start))
	return resp, nil
}

// NewTransport 所有会话共用的上游传输层，timeout 同时约束连接和首字节
func NewTransport(timeout time.Duration, logger Logger) http.RoundTripper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LoggingTransport{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
		},
		Logger: logger,
	}
}
