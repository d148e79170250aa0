package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/bagaking/chat-relay/config"
	"github.com/bagaking/chat-relay/proxy"
	"github.com/bagaking/chat-relay/relay"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var (
	cfgFile string
	debug   bool
)

var serveFlags struct {
	listen string
	assets string
}

var rootCmd = &cobra.Command{
	Use:   "chat-relay",
	Short: "Streaming relay between a browser chat UI and a chat-completion API",
	Long: `chat-relay forwards chat requests to an OpenAI-compatible /chat/completions
endpoint and re-emits the streamed answer to the browser as "data: <json>" frames.

Configuration comes from CLAUDE_API_KEY, CLAUDE_BASE_URL and CLAUDE_MODEL
(or a .env file in the working directory), optionally a YAML file via --config.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long: `Start the relay server.

Examples:
  # Start with environment / .env configuration
  chat-relay serve

  # Override listen address and asset directory
  chat-relay serve --listen :8080 --assets ./web`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "", "override listen address")
		cmd.Flags().StringVar(&serveFlags.assets, "assets", "", "override static asset directory")
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveFlags.listen != "" {
		cfg.ListenAddr = serveFlags.listen
	}
	if serveFlags.assets != "" {
		cfg.AssetRoot = serveFlags.assets
	}
	if debug {
		cfg.Debug = true
	}

	gin.SetMode(gin.ReleaseMode)
	logger := relay.NewDefaultLogger(cfg.Debug)
	logger.Info("starting chat-relay",
		"version", Version,
		"listen", cfg.ListenAddr,
		"base_url", cfg.BaseURL,
		"model", cfg.Model,
		"api_key_configured", cfg.HasAPIKey(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, errCh, err := proxy.StartRelay(cfg, logger, Version)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
