package ledgerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stakeledger/config"
	"stakeledger/native/common"
	"stakeledger/observability"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/storage/sqlstore"
)

// Main initialises and runs the ledger daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LEDGER_ENV"))
	}
	logger, closer := logging.New(logging.Options{
		Service:    "ledgerd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "ledgerd",
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval.Duration,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	backend, err := OpenBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	idemDB, err := sqlstore.Open(cfg.Idempotency.Driver, cfg.Idempotency.DSN)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("open idempotency store: %w", err)
	}
	idem := sqlstore.New(idemDB)
	defer func() { _ = idem.Close() }()

	hub := NewHub()
	service, err := NewService(ServiceOptions{
		Backend:        backend,
		Pauses:         common.NewPauses(),
		Emitter:        hub,
		Logger:         logger,
		Metrics:        observability.Ledger(),
		LockUnit:       cfg.Ledger.LockUnitSeconds(),
		CarryRemainder: cfg.Ledger.CarryRemainder,
		Percentages:    cfg.Ledger.Percentages,
	})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("init service: %w", err)
	}
	defer func() { _ = service.Close() }()

	if cfg.GenesisPath != "" {
		if err := ApplyGenesis(context.Background(), service, cfg.GenesisPath); err != nil {
			return err
		}
		logger.Info("genesis applied", slog.String("path", cfg.GenesisPath))
	}
	if cfg.PauseOnStart {
		service.SetPause(common.ModuleAll, true)
	}

	server := NewServer(service, hub, NewAuthenticator(cfg.Auth, logger), NewRateLimiter(cfg.RateLimit), idem, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", slog.String("addr", cfg.ListenAddress), slog.String("storage", cfg.Storage.Driver))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ApplyGenesis loads the genesis file at path and seeds it in one
// transaction.
func ApplyGenesis(ctx context.Context, service *Service, path string) error {
	genesis, err := config.LoadGenesis(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	err = service.Bootstrap(ctx, func(ctx context.Context, l *Ledger) error {
		return genesis.Apply(ctx, config.GenesisLedger{Staking: l.Staking, Revenue: l.Revenue, Native: l.Native, Markers: l.State})
	})
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	return nil
}
