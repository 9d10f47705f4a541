package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/llm-balancer/config"
	"github.com/angeloszaimis/llm-balancer/internal/handler"
	"github.com/angeloszaimis/llm-balancer/internal/httpserver"
	"github.com/angeloszaimis/llm-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/llm-balancer/internal/prompt"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("LLM_BALANCER_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Load balancer exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	workers, err := config.BuildWorkers(cfg)
	if err != nil {
		return err
	}

	lbCfg := loadBalancerConfig(cfg)
	lb, err := loadbalancer.New(workers, lbCfg, loadbalancer.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create load balancer: %w", err)
	}

	if err := lb.Start(ctx); err != nil {
		return fmt.Errorf("start load balancer: %w", err)
	}
	defer lb.Stop()

	api := handler.NewAPI(log, lb, prompt.NewEngine(), cfg.RequestDefaults)
	router := handler.Logging(log, setupRouter(api, lb))

	// Every attempt of a request may run for the full request timeout.
	attempts := time.Duration(lbCfg.MaxRetries + 1)
	srv, err := httpserver.New(cfg.Server.Address, router,
		httpserver.WithWriteTimeout(attempts*lbCfg.RequestTimeout+httpserver.DefaultWriteTimeout))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("LLM load balancer listening",
		slog.String("addr", srv.Addr()),
		slog.Int("workers", len(workers)),
		slog.String("strategy", string(lbCfg.Strategy)),
		slog.String("admission", string(lbCfg.Admission)))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	case err := <-srvErrCh:
		return err
	}
}

// loadBalancerConfig maps a validated file config onto the balancer's
// runtime tunables.
func loadBalancerConfig(cfg *config.Config) loadbalancer.Config {
	d := cfg.Balancer.Durations()

	return loadbalancer.Config{
		HealthCheckInterval: d.HealthCheckInterval,
		RequestTimeout:      d.RequestTimeout,
		MaxRetries:          cfg.Balancer.MaxRetries,
		MaxConcurrentBatch:  cfg.Balancer.MaxConcurrentBatch,
		ConnectionPoolSize:  cfg.Balancer.ConnectionPoolSize,
		DNSCacheTTL:         d.DNSCacheTTL,
		EnableMetrics:       cfg.Balancer.EnableMetrics,
		MetricsWindowSize:   cfg.Balancer.MetricsWindowSize,
		Strategy:            strategy.Type(cfg.Strategy.Type),
		Admission:           strategy.Mode(cfg.Strategy.Admission),
		BreakerThreshold:    cfg.CircuitBreaker.Threshold,
		BreakerResetTimeout: cfg.CircuitBreaker.ResetTimeoutDuration(),
	}
}
