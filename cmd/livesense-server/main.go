package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudu/livesense/internal/config"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/metrics"
	"github.com/dudu/livesense/internal/pipeline"
	"github.com/dudu/livesense/internal/server"
)

var (
	configPath = flag.String("config", "", "JSON configuration file")
	envFile    = flag.String("env", ".env", "Environment file, ignored when missing")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log.Setup(log.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	entry := log.WithComponent("main")
	entry.Info("livesense server starting...")
	entry.Debugf("configuration:\n%s", cfg.JSON())

	m := metrics.New()

	p, err := pipeline.New(cfg, m)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	if !p.Analyzer().HasLandmarks() {
		entry.Warn("liveness will report UNKNOWN without a face mesh model")
	}

	if cfg.Server.MetricsAddr != "" {
		go func() {
			entry.Infof("starting metrics server on %s", cfg.Server.MetricsAddr)
			if err := m.StartServer(cfg.Server.MetricsAddr); err != nil {
				entry.Errorf("metrics server error: %v", err)
			}
		}()
	}

	opts := server.DefaultOptions()
	opts.MaxStreamFPS = cfg.Server.MaxStreamFPS
	opts.BodyLimit = cfg.Server.BodyLimitMB * 1024 * 1024
	opts.MaxImageSide = cfg.Server.MaxImageSide
	srv := server.New(p.Analyzer(), m, opts)
	log.Info(log.Fields{
		"addr":     cfg.Server.Addr,
		"backend":  p.Backend(),
		"maxFPS":   opts.MaxStreamFPS,
		"liveness": p.Analyzer().HasLandmarks(),
	}, "service configured")

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Listen(cfg.Server.Addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server stopped: %w", err)
	case <-sigChan:
	}

	entry.Info("shutting down...")
	if err := srv.App().ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error(log.Fields{"error": err}, "error during shutdown")
	}
	entry.Info("server stopped")
	return nil
}
