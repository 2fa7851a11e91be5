// Command gateway is the process entrypoint: load config, build the
// provider registry, mount the HTTP surface, and serve until signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digitallysavvy/llmgateway/internal/chatgptauth"
	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/internal/gwhttp"
	"github.com/digitallysavvy/llmgateway/internal/providers/anthropic"
	"github.com/digitallysavvy/llmgateway/internal/providers/codex"
	"github.com/digitallysavvy/llmgateway/internal/providers/openai"
)

// Version is overridden at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to the gateway's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	configureLogging(cfg.Gateway.LogLevel, cfg.Gateway.LogDir)
	gwhttp.Version = Version

	registry := buildRegistry(cfg)
	d := dispatch.New(cfg, registry)
	srv := gwhttp.New(cfg, d)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	go func() {
		slog.Info("gateway listening", "addr", addr, "provider", cfg.AIProvider, "apiMode", cfg.Gateway.APIMode)
		errCh <- srv.App.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server exited", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	if err := srv.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

// configureLogging wires the process-wide slog default per gateway.logLevel
// and gateway.logDir: it selects a level and, if configured, an additional
// file destination opened in append mode.
func configureLogging(level, dir string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if dir == "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts)))
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts)))
		slog.Error("could not create log dir, logging to stdout only", "dir", dir, "error", err)
		return
	}
	f, err := os.OpenFile(dir+"/gateway.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts)))
		slog.Error("could not open log file, logging to stdout only", "path", dir+"/gateway.log", "error", err)
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, f), handlerOpts)))
}

// buildRegistry constructs every adapter the config recognizes, regardless
// of which is currently selected as aiProvider: a per-request provider
// override can still dispatch to any of them.
func buildRegistry(cfg *config.Config) dispatch.Registry {
	openAIAdapter := openai.New(cfg.OpenAI)
	anthropicAdapter := anthropic.New(cfg.ClaudeCode)
	reg := dispatch.Registry{
		openAIAdapter.Name():    openAIAdapter,
		anthropicAdapter.Name(): anthropicAdapter,
	}

	var auth *chatgptauth.Manager
	if cfg.Codex.AuthMode == "ChatGPT" {
		home, _ := os.UserHomeDir()
		path := home + "/.config/llmgateway/chatgpt-auth.json"
		auth = chatgptauth.New(path, chatgptauth.DefaultRefreshFunc(
			"https://auth.openai.com/oauth/token", "chatgpt-codex-cli",
		))
	}
	codexAdapter := codex.New(cfg.Codex, auth)
	reg[codexAdapter.Name()] = codexAdapter

	return reg
}
