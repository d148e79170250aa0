package relay

import (
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxTokens 单次会话的输出上限，不由客户端控制
	DefaultMaxTokens = 10000
	// DefaultTimeout 上游连接 / 读取超时
	DefaultTimeout = 30 * time.Second
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message 聊天消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UpstreamConfig 上游调用配置，进程启动时加载，之后只读
type UpstreamConfig struct {
	Endpoint   string            // 上游 base URL，如 https://api.example.com/v1
	Credential string            // Bearer 凭证
	Model      string            // 模型 ID
	MaxTokens  int               // 输出 token 上限
	Timeout    time.Duration     // 连接 / 读取超时
	Headers    map[string]string // 额外的静态请求头
}

// HasCredential 是否配置了凭证
func (c UpstreamConfig) HasCredential() bool {
	return c.Credential != ""
}

// ChatURL 上游 chat completions 地址
func (c UpstreamConfig) ChatURL() string {
	return strings.TrimRight(c.Endpoint, "/") + "/chat/completions"
}

// UpstreamRequest 发往上游的请求体
type UpstreamRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens int       `json:"max_tokens"`
}

// UpstreamCall 一次已校验的上游调用描述
type UpstreamCall struct {
	URL     string
	Header  http.Header
	Payload UpstreamRequest
}
