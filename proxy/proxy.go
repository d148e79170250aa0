package proxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bagaking/chat-relay/relay"
)

const (
	chatPath = "/api/chat"
	infoPath = "/api"
)

const notFoundHTML = "<html><body><h1>404 Not Found</h1></body></html>"

// Proxy 浏览器和上游 chat completions 之间的流式中继服务
type Proxy struct {
	config Config
	relay  *relay.Relay
	logger relay.Logger
	engine *gin.Engine
	server *http.Server
}

// NewProxy 创建服务实例
func NewProxy(cfg Config, rl *relay.Relay, logger relay.Logger) *Proxy {
	if cfg.AssetRoot == "" {
		cfg.AssetRoot = "public"
	}
	p := &Proxy{
		config: cfg,
		relay:  rl,
		logger: logger,
	}
	p.engine = p.routes()
	p.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           p.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// 不设 WriteTimeout，流式响应的时长由上游决定
	}
	return p
}

// corsMiddleware 统一处理 CORS，OPTIONS 预检直接返回 200
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCORSHeaders(c.Writer.Header())

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Cache-Control, X-Requested-With")
	h.Set("Access-Control-Expose-Headers", "X-Relay-Session")
}

// 自定义 recovery 中间件
func (p *Proxy) customRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// 客户端中断的流式响应
				if err == http.ErrAbortHandler {
					p.logger.Info("stream aborted by client", "path", c.Request.URL.Path)
					return
				}

				p.logger.Error("panic recovered", "error", err, "stack", string(debug.Stack()))
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, relay.ErrorResponse{
					Error: fmt.Sprintf("Server error: %v", err),
				})
			}
		}()
		c.Next()
	}
}

// requestLogger 记录每个请求的方法、路径、状态和耗时
func (p *Proxy) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		p.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"remote", c.ClientIP(),
		)
	}
}

func (p *Proxy) routes() *gin.Engine {
	r := gin.New()

	r.Use(p.customRecovery())
	r.Use(p.requestLogger())
	r.Use(corsMiddleware())

	r.POST(chatPath, p.handleChat)
	r.GET(infoPath, p.handleInfo)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 其余路径都当作静态文件
	r.NoRoute(p.serveAsset)

	return r
}

// Handler 返回 http.Handler，测试里配合 httptest.NewServer 使用
func (p *Proxy) Handler() http.Handler {
	return p.engine
}

// Start 启动服务，阻塞直到服务停止
func (p *Proxy) Start() error {
	p.logger.Info("starting relay server", "listen", p.config.ListenAddr, "assets", p.config.AssetRoot)
	err := p.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅停止，进行中的流会等到 ctx 结束
func (p *Proxy) Shutdown(ctx context.Context) error {
	return p.server.Shutdown(ctx)
}

func (p *Proxy) handleChat(c *gin.Context) {
	p.relay.Serve(newStreamResponseWriter(c))
}

// 处理信息请求
func (p *Proxy) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, newInfoResponse(p.relay.Config(), p.config.Version, map[string]string{
		"chat":    "POST " + chatPath,
		"info":    "GET " + infoPath,
		"metrics": "GET /metrics",
	}))
}

// serveAsset 从静态目录返回文件，"/" 对应 index.html
func (p *Proxy) serveAsset(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(notFoundHTML))
		return
	}

	name := path.Clean("/" + c.Request.URL.Path)
	if name == "/" {
		name = "/index.html"
	}

	assets := http.Dir(p.config.AssetRoot)
	f, err := assets.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Error("open asset", "path", name, "error", err)
		}
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(notFoundHTML))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(notFoundHTML))
		return
	}

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
