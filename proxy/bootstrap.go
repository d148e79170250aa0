package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/bagaking/chat-relay/config"
	"github.com/bagaking/chat-relay/plugin"
	"github.com/bagaking/chat-relay/relay"
)

// NewRelay 按配置创建 Relay 并注册插件
func NewRelay(cfg *config.Config, logger relay.Logger) (*relay.Relay, error) {
	rl := relay.New(cfg.Upstream(), relay.WithLogger(logger))

	// 额外请求头通过插件配置注入
	headerPlugin := plugin.NewHeaderPlugin(logger)
	pluginConfig := plugin.HeaderConfig{
		Headers: rl.Config().Headers,
	}
	configBytes, err := json.Marshal(pluginConfig)
	if err != nil {
		return nil, err
	}
	if err := headerPlugin.Configure(configBytes); err != nil {
		return nil, fmt.Errorf("configure header plugin: %w", err)
	}
	rl.RegisterPlugin(headerPlugin)

	if cfg.Debug {
		rl.RegisterPlugin(plugin.NewLogPlugin(logger))
	}

	// 缺少 API key 只告警，静态页面和信息接口照常服务，聊天请求返回 500
	if !cfg.HasAPIKey() {
		logger.Error("no API key configured, chat requests will fail",
			"env", config.EnvAPIKey)
	}
	return rl, nil
}

// StartRelay 组装服务。ListenAddr 非空时在后台启动，错误通过返回的 channel 送出
func StartRelay(cfg *config.Config, logger relay.Logger, version string) (*Proxy, <-chan error, error) {
	rl, err := NewRelay(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	p := NewProxy(Config{
		ListenAddr: cfg.ListenAddr,
		AssetRoot:  cfg.AssetRoot,
		Version:    version,
	}, rl, logger)

	errCh := make(chan error, 1)
	if cfg.ListenAddr != "" {
		go func() {
			if err := p.Start(); err != nil {
				logger.Error("failed to start relay server", "error", err)
				errCh <- err
			}
			close(errCh)
		}()
	}
	return p, errCh, nil
}
