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

	"github.com/user/ghostd/internal/config"
	"github.com/user/ghostd/internal/factcheck"
	"github.com/user/ghostd/internal/gateway"
	"github.com/user/ghostd/internal/httpapi"
	"github.com/user/ghostd/internal/relay"
	"github.com/user/ghostd/internal/session"
	"github.com/user/ghostd/internal/settings"
	"github.com/user/ghostd/internal/state"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ghostd daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "ghostd.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func streamTimings(cfg *config.Config) session.Timings {
	t := session.DefaultTimings()
	if cfg.Stream.AnalyzeStaggerMS > 0 {
		t.AnalyzeStagger = time.Duration(cfg.Stream.AnalyzeStaggerMS) * time.Millisecond
	}
	if cfg.Stream.ResolveDelayMS > 0 {
		t.ResolveDelay = time.Duration(cfg.Stream.ResolveDelayMS) * time.Millisecond
	}
	if cfg.Stream.SynthesisDelayMS > 0 {
		t.SynthesisDelay = time.Duration(cfg.Stream.SynthesisDelayMS) * time.Millisecond
	}
	if cfg.Stream.ChunkIntervalMS > 0 {
		t.StreamInterval = time.Duration(cfg.Stream.ChunkIntervalMS) * time.Millisecond
	}
	return t
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	journal := state.NewJournal(cfg.DataDir)
	settingsStore, err := settings.NewStore(filepath.Join(cfg.DataDir, "settings.json"))
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}

	// Fact-check client
	checker := factcheck.New(&factcheck.Config{
		BaseURL:  cfg.FactCheck.BaseURL,
		APIKey:   cfg.FactCheck.APIKey,
		TopK:     cfg.FactCheck.TopK,
		Timeout:  time.Duration(cfg.FactCheck.TimeoutSeconds) * time.Second,
		CacheTTL: time.Duration(cfg.FactCheck.CacheTTLSeconds) * time.Second,
	})

	// Page-context registry
	registry := relay.NewRegistry()
	defer registry.Close()

	// Gateway
	gw := gateway.New(registry, checker, journal, settingsStore, int64(cfg.MaxConcurrent),
		gateway.WithTimings(streamTimings(cfg)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("ghostd started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen", cfg.Listen,
		"max_concurrent", cfg.MaxConcurrent,
		"fact_check_url", cfg.FactCheck.BaseURL,
		"pid_file", pidPath,
	)

	// HTTP surface
	api := httpapi.NewServer(registry, gw, journal, settingsStore)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: api,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
