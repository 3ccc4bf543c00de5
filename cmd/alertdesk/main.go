package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"alertdesk/internal/app"
	"alertdesk/internal/config"
	"alertdesk/internal/logging"
)

var version = "dev"

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	configPath := flag.String("config", envOr("ALERTDESK_CONFIG", ""), "path to config file (yaml or json)")
	userID := flag.String("user", envOr("ALERTDESK_USER_ID", ""), "session user id")
	role := flag.String("role", envOr("ALERTDESK_ROLE", ""), "session role")
	zone := flag.String("zone", envOr("ALERTDESK_ZONE", ""), "session zone")
	token := flag.String("token", envOr("ALERTDESK_TOKEN", ""), "bearer token for the stream and backend")
	logLevel := flag.String("log-level", envOr("ALERTDESK_LOG_LEVEL", ""), "debug|info|warn|error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	var (
		mgr *config.Manager
		err error
	)
	if *configPath != "" {
		mgr, err = config.NewManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}

	override := func(cfg *config.Config) {
		if *userID != "" {
			cfg.Session.UserID = *userID
		}
		if *role != "" {
			cfg.Session.Role = *role
		}
		if *zone != "" {
			cfg.Session.Zone = *zone
		}
		if *token != "" {
			cfg.Session.Token = *token
			cfg.Outbound.Token = *token
		}
		if *logLevel != "" {
			cfg.LogLevel = *logLevel
		}
	}
	cfg := mgr.Get()
	override(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Session.UserID == "" {
		fmt.Fprintln(os.Stderr, "a session user id is required (-user or ALERTDESK_USER_ID)")
		os.Exit(2)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat, "alertdesk")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	desk, err := app.New(ctx, mgr, logger, app.Options{Version: version, Override: override})
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	if err := desk.Run(ctx); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
	logger.Info("alertdesk stopped")
}
