package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/pagewatch/internal/config"
	"github.com/dgnsrekt/pagewatch/internal/controller"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 2 for configuration errors, 1 for
// other startup or driver failures, 0 otherwise.
func run() int {
	env := config.LoadEnv()

	if err := setupLogger(env.LogLevel, env.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		return 1
	}

	slog.Info("pagewatch starting",
		"config", env.ConfigPath,
		"log_level", env.LogLevel,
		"log_file", env.LogFile,
	)

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		slog.Error("failed to load config", "path", env.ConfigPath, "error", err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return 2
		}
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := controller.NewService(cfg)
	if err != nil {
		slog.Error("failed to start service", "error", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("service close failed", "error", err)
		}
	}()

	slog.Info("service configured",
		"mode", svc.Mode(),
		"renderer", cfg.Settings.Renderer,
		"targets", len(cfg.Enabled()),
		"directory", cfg.Settings.ScreenshotDirectory,
	)

	err = svc.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("shutting down")
	}
	if err != nil {
		slog.Error("service stopped with error", "error", err)
		return 1
	}
	return 0
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
