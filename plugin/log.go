package plugin

import (
	"encoding/json"
	"net/http"
)

// LogPlugin 日志插件
type LogPlugin struct {
	logger Logger
}

func NewLogPlugin(logger Logger) *LogPlugin {
	return &LogPlugin{logger: logger}
}

func (p *LogPlugin) BeforeRequest(req *http.Request) error {
	// 请求体里是完整对话，只记长度
	p.logger.Debug("upstream request", "method", req.Method, "url", req.URL.String(), "content_length", req.ContentLength)
	return nil
}

func (p *LogPlugin) AfterResponse(resp *http.Response) error {
	p.logger.Debug("upstream response", "status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))
	return nil
}

func (p *LogPlugin) Configure(json.RawMessage) error {
	return nil
}
