package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mnemohq/mnemo/internal/api"
	"github.com/mnemohq/mnemo/internal/config"
	"github.com/mnemohq/mnemo/internal/db"
	"github.com/mnemohq/mnemo/internal/embedding"
	"github.com/mnemohq/mnemo/internal/mcp"
	"github.com/mnemohq/mnemo/internal/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (yaml or json)")
		stdioMCP   = flag.Bool("mcp-stdio", false, "serve MCP over stdio instead of HTTP")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := config.NewLogger(cfg.Log)

	store, err := db.NewStore(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder, err := embedding.NewClient(embedderConfig(cfg.Embedding))
	if err != nil {
		logger.Error("failed to initialize embedding client", "error", err)
		os.Exit(1)
	}

	svc := service.New(store, embedder, logger)

	if *stdioMCP {
		logger.Info("starting mcp server on stdio", "database", cfg.Database.Path)
		if err := mcp.NewServer(svc).Serve(); err != nil {
			logger.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := api.NewServer(svc, cfg.Server, logger)
	if cfg.MCP.Enabled {
		srv.AddMCPServer(mcp.NewServer(svc).GetMCPServer())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mnemo starting", "addr", cfg.Server.Addr(), "database", cfg.Database.Path)
	if err := srv.Serve(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// embedderConfig maps the loaded embedding settings onto the client config,
// keeping the stock defaults for anything left unset.
func embedderConfig(cfg config.EmbeddingConfig) embedding.Config {
	out := embedding.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		out.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		out.Model = openai.EmbeddingModel(cfg.Model)
	}
	if cfg.MaxRetries > 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		out.RetryDelay = cfg.RetryDelay
	}
	return out
}
