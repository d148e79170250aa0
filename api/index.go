// Package handler 是按请求调用的部署入口（Vercel 等 serverless 平台）。
// 平台对每个请求调用 Handler，配置只从环境变量和 .env 读取。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/bagaking/chat-relay/config"
	"github.com/bagaking/chat-relay/proxy"
	"github.com/bagaking/chat-relay/relay"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var (
	once    sync.Once
	handler http.Handler
)

// Handler 平台入口，首个请求时初始化，之后复用同一个 Relay
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler = newHandler(relay.NewDefaultLogger(false))
	})
	handler.ServeHTTP(w, r)
}

// newHandler 配置无效时返回一个对所有请求都回 500 的 handler
func newHandler(logger relay.Logger) http.Handler {
	cfg, err := config.Load("")
	if err != nil {
		logger.Error("load config", "error", err)
		return failHandler(err)
	}

	rl, err := proxy.NewRelay(cfg, logger)
	if err != nil {
		logger.Error("init relay", "error", err)
		return failHandler(err)
	}
	return proxy.FuncHandler(rl, Version)
}

func failHandler(err error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(relay.ErrorResponse{Error: fmt.Sprintf("Server error: %v", err)})
	}
}
