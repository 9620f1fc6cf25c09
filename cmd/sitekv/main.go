package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sitekv/internal/config"
	sitehttp "sitekv/internal/http"
	"sitekv/pkg/backup"
	"sitekv/pkg/dberrors"
	"sitekv/pkg/listener"
	"sitekv/pkg/metrics"
	"sitekv/pkg/store"
)

const (
	exitFailure   = 1
	exitCorrupted = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	restorePath := flag.String("restore", "", "restore the store log from a zstd backup and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFailure
	}
	initLogger(&cfg)

	if *restorePath != "" {
		return restore(*restorePath, cfg.Store.Path)
	}

	reg := metrics.NewRegistry()
	opts := cfg.StoreOptions()
	opts.Metrics = reg

	db, err := store.Open(opts)
	if err != nil {
		slog.Error("failed to open store", "path", opts.Path, "error", err)
		if errors.Is(err, dberrors.ErrCorrupted) {
			return exitCorrupted
		}
		return exitFailure
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	server := sitehttp.NewServer(db, strconv.Itoa(cfg.Server.Port))
	server.SetMetrics(reg.Handler())
	server.SetReadHeaderTimeout(cfg.Server.ReadHeaderTimeout)
	server.SetMaxValueBytes(opts.MaxValueBytes)

	if err := server.Start(); err != nil {
		slog.Error("failed to start server", "error", err)
		return exitFailure
	}

	if interval := cfg.Metrics.TenantInterval; interval > 0 {
		reporter := listener.NewTicker("tenant-usage", interval, func(time.Time) error {
			return db.ReportTenants()
		})
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}

	slog.Info("sitekv stopped", "stats", db.Stats())
	return 0
}

func restore(archive, path string) int {
	f, err := os.Open(archive)
	if err != nil {
		slog.Error("failed to open backup", "archive", archive, "error", err)
		return exitFailure
	}
	defer f.Close()

	st, err := backup.Restore(f, path)
	if err != nil {
		slog.Error("restore failed", "archive", archive, "path", path, "error", err)
		return exitFailure
	}
	slog.Info("log restored", "archive", archive, "path", path, "log_bytes", st.LogBytes)
	return 0
}
