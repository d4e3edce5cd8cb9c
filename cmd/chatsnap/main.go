package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxischmaxi/chatsnap/internal/auth"
	"github.com/maxischmaxi/chatsnap/internal/browser"
	"github.com/maxischmaxi/chatsnap/internal/config"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/screenshot"
	"github.com/maxischmaxi/chatsnap/internal/server"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to the YAML config file")
		logLevel   = flag.String("logLevel", "", "log level: debug, info, warn, error (overrides the config)")
		logFile    = flag.String("logFile", "", "if set, log to this file instead of the config's log directory")
		logDev     = flag.Bool("logDev", false, "if true, use a more human friendly console log format")
	)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	cleanupLogs, err := logging.Init(logging.Config{
		Level:       level,
		Dir:         cfg.Log.Dir,
		FilePath:    *logFile,
		MaxSizeMB:   100,
		MaxBackups:  5,
		MaxAgeDays:  14,
		JSON:        cfg.Log.JSON,
		Console:     *cfg.Log.Console,
		Development: cfg.Log.Development || *logDev,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanupLogs()

	logging.L.Info("chatsnap started", zap.String("config", *configPath), zap.Any("settings", cfg))

	if err := run(cfg); err != nil {
		logging.L.Error("chatsnap stopped", zap.Error(err))
		cleanupLogs()
		os.Exit(1)
	}
	logging.L.Info("chatsnap stopped")
}

func run(cfg *config.Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("jwtSecret is required")
	}
	if cfg.UsersFile == "" {
		return errors.New("usersFile is required")
	}

	users, err := auth.LoadUsers(cfg.UsersFile)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	authn, err := auth.New(cfg.JWTSecret, users)
	if err != nil {
		return err
	}
	logging.L.Info("loaded users", zap.String("file", cfg.UsersFile), zap.Int("count", users.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := browser.New(cfg)
	if err := sess.Init(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer sess.Close()

	opts := server.Options{
		Auth:      authn,
		Pages:     sess,
		MaxWindow: cfg.MessageWindow,
	}
	if cfg.UseChat() {
		opts.Messages = screenshot.NewService(sess, cfg)
	} else {
		logging.L.Info("no chat token configured, message screenshots disabled")
	}

	return server.New(opts).Serve(ctx, fmt.Sprintf(":%d", cfg.Port))
}
