package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	errorf := color.New(color.FgRed).FprintfFunc()

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		errorf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.APIKey() == "" {
		errorf(os.Stderr, "Error: %s is not set. Add it to your environment or a .env file.\n", cfg.LLM.APIKeyEnv)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			errorf(os.Stderr, "Config error: %v\n", e)
		}
		os.Exit(1)
	}
	logger.Init(cfg.Log.Debug, os.Stderr)

	pipeline, err := rag.New(cfg, rag.Components{})
	if err != nil {
		logger.Error("Failed to initialize pipeline: %v", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	srv := &http.Server{
		Addr:              cfg.UI.Addr,
		Handler:           server.New(cfg, pipeline).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed: %v", err)
		}
	}()

	logger.Info("Serving on http://localhost%s", cfg.UI.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed: %v", err)
		pipeline.Close()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
