package plugin

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderConfig 静态请求头插件的配置
type HeaderConfig struct {
	Headers map[string]string `json:"headers"`
}

// HeaderPlugin 给每个上游请求加上配置的静态请求头
type HeaderPlugin struct {
	config HeaderConfig
	logger Logger
}

// NewHeaderPlugin 创建新的请求头插件
func NewHeaderPlugin(logger Logger) *HeaderPlugin {
	return &HeaderPlugin{
		config: HeaderConfig{
			Headers: make(map[string]string),
		},
		logger: logger,
	}
}

// Configure 配置插件
func (p *HeaderPlugin) Configure(config json.RawMessage) error {
	var c HeaderConfig
	if err := json.Unmarshal(config, &c); err != nil {
		return err
	}
	for k, v := range c.Headers {
		p.AddHeader(k, v)
	}
	return nil
}

// AddHeader 添加请求头
func (p *HeaderPlugin) AddHeader(key, value string) {
	p.config.Headers[http.CanonicalHeaderKey(key)] = value
}

func (p *HeaderPlugin) BeforeRequest(req *http.Request) error {
	for key, value := range p.config.Headers {
		// 凭证只来自配置的 credential
		if strings.EqualFold(key, "Authorization") {
			p.logger.Debug("header plugin: skip Authorization override")
			continue
		}
		req.Header.Set(key, value)
	}
	return nil
}

func (p *HeaderPlugin) AfterResponse(resp *http.Response) error {
	return nil
}
