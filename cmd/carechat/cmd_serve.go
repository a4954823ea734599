package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ctxengine "github.com/user/carechat/internal/context"
	"github.com/user/carechat/internal/gateway"
	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/runtime"
	"github.com/user/carechat/internal/scheduler"
	"github.com/user/carechat/internal/state"
	"github.com/user/carechat/internal/summarizer"
	"github.com/user/carechat/internal/tokens"
	"github.com/user/carechat/internal/webhook"
	"github.com/user/carechat/pkg/llm"
	"github.com/user/carechat/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the carechat service",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "carechat.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	messages := state.NewMessageLog(cfg.DataDir)
	reg := registry.New(sessions)

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	// Token estimator and context assembler
	estimator, err := tokens.New(cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("create token estimator: %w", err)
	}
	assembler := ctxengine.New(sessions, messages, estimator, cfg.LLM.MaxContextTokens)

	// Summarizer trigger
	trigger := summarizer.New(messages, reg, provider,
		time.Duration(cfg.Summarizer.LeaseSeconds)*time.Second)

	// Runtime
	rt := runtime.New(provider, assembler, messages, reg, trigger,
		time.Duration(cfg.Summarizer.TimeoutSeconds)*time.Second)

	// Gateway
	gw := gateway.New(reg, int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(rt.ProcessTurn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("carechat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"context_budget", cfg.LLM.MaxContextTokens,
		"pid_file", pidPath,
	)

	// Maintenance scheduler
	sched := scheduler.New(reg, trigger, cfg.Maintenance.Schedule,
		time.Duration(cfg.Maintenance.ArchiveIdleHours)*time.Hour)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP server
	if cfg.HTTP.Enabled {
		srv := webhook.NewServer(gw, reg, messages)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: srv,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	return nil
}
