package plugin

import (
	"encoding/json"
	"net/http"
)

// Plugin 上游请求的钩子
type Plugin interface {
	// BeforeRequest 在上游请求发出前调用，返回错误则会话失败
	BeforeRequest(*http.Request) error
	// AfterResponse 在收到上游响应头后调用，不应读取流式响应体
	AfterResponse(*http.Response) error
	Configure(json.RawMessage) error
}

// Logger 日志接口定义
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}
