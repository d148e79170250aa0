package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// inboundRequest 客户端请求体
type inboundRequest struct {
	Messages []Message `json:"messages"`
}

// Translate 校验客户端请求体并生成上游调用描述。
// 缺少 messages 字段视为空列表，由上游决定是否拒绝。
func Translate(body []byte, conf UpstreamConfig) (*UpstreamCall, error) {
	var in *inboundRequest
	if err := json.Unmarshal(bytes.TrimSpace(body), &in); err != nil {
		return nil, newFailure(ErrMalformedRequest, err, "Invalid request body: %v", err)
	}
	if in == nil {
		return nil, newFailure(ErrMalformedRequest, nil, "Invalid request body: expected a JSON object")
	}

	messages := make([]Message, 0, len(in.Messages))
	for i, m := range in.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return nil, newFailure(ErrMalformedRequest, nil, "Invalid request body: message %d has unsupported role %q", i, m.Role)
		}
		messages = append(messages, m)
	}

	if !conf.HasCredential() {
		return nil, newFailure(ErrMissingCredential, nil,
			"API key not configured. Set CLAUDE_API_KEY in the environment or in a .env file.")
	}

	maxTokens := conf.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	header.Set("Authorization", "Bearer "+conf.Credential)

	return &UpstreamCall{
		URL:    conf.ChatURL(),
		Header: header,
		Payload: UpstreamRequest{
			Model:     conf.Model,
			Messages:  messages,
			Stream:    true,
			MaxTokens: maxTokens,
		},
	}, nil
}
