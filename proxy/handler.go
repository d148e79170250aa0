package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/bagaking/chat-relay/relay"
)

// FuncHandler 按请求调用的入口（serverless 函数等），不带路由：
// OPTIONS 预检，GET 返回信息，POST 走中继。与 gin 服务共用同一个 Relay。
func FuncHandler(rl *relay.Relay, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header())

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, newInfoResponse(rl.Config(), version, map[string]string{
				"chat": "POST /chat",
				"info": "GET /",
			}))
		case http.MethodPost:
			rl.Serve(newHTTPExchange(w, r))
		default:
			writeJSON(w, http.StatusMethodNotAllowed, relay.ErrorResponse{Error: "method not allowed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
