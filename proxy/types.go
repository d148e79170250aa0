package proxy

import "github.com/bagaking/chat-relay/relay"

// Config 服务配置
type Config struct {
	ListenAddr string // 监听地址
	AssetRoot  string // 静态文件目录
	Version    string // 出现在信息接口里
}

// InfoResponse 信息接口的响应，不包含凭证本身
type InfoResponse struct {
	Service          string            `json:"service"`
	Status           string            `json:"status"`
	Version          string            `json:"version,omitempty"`
	Model            string            `json:"model"`
	APIKeyConfigured bool              `json:"api_key_configured"`
	Endpoints        map[string]string `json:"endpoints"`
}

const serviceName = "chat-relay"

func newInfoResponse(conf relay.UpstreamConfig, version string, endpoints map[string]string) InfoResponse {
	return InfoResponse{
		Service:          serviceName,
		Status:           "ok",
		Version:          version,
		Model:            conf.Model,
		APIKeyConfigured: conf.HasCredential(),
		Endpoints:        endpoints,
	}
}
