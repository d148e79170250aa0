package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bagaking/chat-relay/relay"
)

const (
	DefaultListenAddr = ":5000"
	DefaultAssetRoot  = "public"
	DefaultBaseURL    = "https://www.dmxapi.cn/v1"
	DefaultModel      = "claude-sonnet-4-20250514"
)

// 环境变量
const (
	EnvAPIKey     = "CLAUDE_API_KEY"
	EnvBaseURL    = "CLAUDE_BASE_URL"
	EnvModel      = "CLAUDE_MODEL"
	EnvListenAddr = "RELAY_LISTEN_ADDR"
	EnvAssetRoot  = "RELAY_ASSET_ROOT"
	EnvMaxTokens  = "RELAY_MAX_TOKENS"
	EnvTimeout    = "RELAY_TIMEOUT"
)

// Config 配置结构
type Config struct {
	ListenAddr string            `yaml:"listen_addr"` // 监听地址
	AssetRoot  string            `yaml:"asset_root"`  // 静态文件目录
	BaseURL    string            `yaml:"base_url"`    // 上游地址
	APIKey     string            `yaml:"api_key"`
	Model      string            `yaml:"model"`
	MaxTokens  int               `yaml:"max_tokens"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"` // 上游额外请求头
	Debug      bool              `yaml:"debug"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		AssetRoot:  DefaultAssetRoot,
		BaseURL:    DefaultBaseURL,
		Model:      DefaultModel,
		MaxTokens:  relay.DefaultMaxTokens,
		Timeout:    relay.DefaultTimeout,
	}
}

// Load 按 默认值 < YAML 文件 < .env < 环境变量 的顺序加载配置。
// path 为空或文件不存在时跳过 YAML；.env 不会覆盖已有的环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.APIKey = getEnv(EnvAPIKey, c.APIKey)
	c.BaseURL = getEnv(EnvBaseURL, c.BaseURL)
	c.Model = getEnv(EnvModel, c.Model)
	c.ListenAddr = getEnv(EnvListenAddr, c.ListenAddr)
	c.AssetRoot = getEnv(EnvAssetRoot, c.AssetRoot)

	if v := os.Getenv(EnvMaxTokens); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxTokens, err)
		}
		c.MaxTokens = n
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	return nil
}

// Validate 检查配置。缺少 API key 不算错误，由调用方决定如何处理。
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url %q: scheme must be http or https", c.BaseURL)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// HasAPIKey 是否配置了 API key
func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}

// Upstream 上游调用配置
func (c *Config) Upstream() relay.UpstreamConfig {
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return relay.UpstreamConfig{
		Endpoint:   c.BaseURL,
		Credential: c.APIKey,
		Model:      c.Model,
		MaxTokens:  c.MaxTokens,
		Timeout:    c.Timeout,
		Headers:    headers,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
