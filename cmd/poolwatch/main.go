package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/poolwatch/config"
	"github.com/alejandrodnm/poolwatch/internal/adapters/discovery"
	"github.com/alejandrodnm/poolwatch/internal/adapters/httpapi"
	"github.com/alejandrodnm/poolwatch/internal/adapters/notify"
	"github.com/alejandrodnm/poolwatch/internal/adapters/solana"
	"github.com/alejandrodnm/poolwatch/internal/adapters/storage"
	"github.com/alejandrodnm/poolwatch/internal/application/engine/paper"
	"github.com/alejandrodnm/poolwatch/internal/application/fetcher"
	"github.com/alejandrodnm/poolwatch/internal/application/governor"
	"github.com/alejandrodnm/poolwatch/internal/application/monitor"
	"github.com/alejandrodnm/poolwatch/internal/observability"
	"github.com/alejandrodnm/poolwatch/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "simulated chain + synthetic pools, in-memory storage")
	verbose := flag.Bool("verbose", false, "set log level to debug and print every metrics tick")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print trade report from storage and exit")
	discoveries := flag.String("discoveries", "", "replay pools from a JSONL file")
	replayDelay := flag.Duration("replay-delay", 0, "delay between replayed discoveries")
	status := flag.Bool("status", false, "print a pool table on every health tick")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	console := notify.NewConsole(*verbose)

	if *report {
		if err := runReport(context.Background(), cfg.Storage.DSN, console); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("poolwatch starting",
		"config", *configPath,
		"dry_run", *dryRun,
		"rpc", cfg.RPC.Endpoint,
		"window", cfg.MonitoringWindow(),
		"trading", cfg.Trading.IsEnabled(),
		"http", cfg.HTTP.Addr,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, console, options{
		dryRun:      *dryRun,
		discoveries: *discoveries,
		replayDelay: *replayDelay,
		status:      *status,
	}); err != nil {
		slog.Error("poolwatch exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("poolwatch stopped cleanly")
}

type options struct {
	dryRun      bool
	discoveries string
	replayDelay time.Duration
	status      bool
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, console *notify.Console, opts options) error {
	dsn := cfg.Storage.DSN
	if opts.dryRun {
		dsn = ":memory:"
	}
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	recorder := storage.NewAsyncRecorder(store, cfg.Storage.BufferSize)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.New(reg)

	hub := notify.NewHub()
	bus := notify.NewBus(256, console, hub)
	metrics.GaugeFunc("notify", "ws_clients", "Connected WebSocket clients", func() float64 { return float64(hub.Clients()) })
	metrics.GaugeFunc("storage", "dropped_writes", "Writes dropped because the recorder buffer was full", func() float64 {
		return float64(recorder.Dropped())
	})

	gov := governor.New(governorConfig(cfg), governor.WithObserver(metrics))
	reader := fetcher.New(gov, chainProvider(cfg, opts.dryRun), cfg.FetchTimeout())
	engine := paper.New(paperConfig(cfg), bus, recorder)
	mon := monitor.New(monitorConfig(cfg), gov, reader, engine, bus, recorder, monitor.WithObserver(metrics))

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: httpapi.NewRouter(mon, httpapi.Config{
				Storage:    store,
				Metrics:    metrics.Handler(),
				WebSocket:  hub,
				Middleware: []func(http.Handler) http.Handler{metrics.Middleware(httpapi.RoutePattern)},
			}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			slog.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	go watchStopFile(ctx, stopFile, time.Second, func() {
		mon.EmergencyStop()
		cancel()
	})

	if src := discoverySource(opts); src != nil {
		go func() {
			if err := mon.Consume(ctx, src); err != nil {
				slog.Warn("discovery source ended", "err", err)
			}
		}()
	}

	if opts.status {
		go printStatus(ctx, console, mon, cfg.HealthInterval())
	}

	runErr := mon.Run(ctx)

	// Shutdown ordenado: primero dejar de aceptar requests, después vaciar buffers.
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}
	if err := gov.Close(shutdownCtx); err != nil {
		slog.Warn("governor close", "err", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		slog.Warn("notification bus close", "err", err, "dropped", bus.Dropped())
	}
	hub.Close()
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Warn("recorder close", "err", err, "dropped", recorder.Dropped())
	}

	summary := engine.Summary()
	slog.Info("session summary",
		"open_positions", summary.OpenPositions,
		"trades", summary.Trades,
		"wins", summary.Wins,
		"balance", summary.Balance,
		"realized_pnl", summary.RealizedPnL,
	)
	if err := printReport(shutdownCtx, store, console); err != nil {
		slog.Warn("could not generate exit summary", "err", err)
	}
	return runErr
}

func chainProvider(cfg *config.Config, dryRun bool) ports.ChainDataProvider {
	if dryRun {
		return solana.NewSimulated(solana.SimConfig{
			Seed:           time.Now().UnixNano(),
			Volatility:     0.04,
			Drift:          0.002,
			RugProbability: 0.002,
			FailureRate:    0.02,
			HiddenReads:    2,
			Latency:        40 * time.Millisecond,
		})
	}
	return solana.NewClient(solana.Config{
		Endpoint:   cfg.RPC.Endpoint,
		Timeout:    cfg.RPCTimeout(),
		RatePerSec: cfg.RPC.RatePerSec,
		Burst:      cfg.RPC.Burst,
		MaxRetries: cfg.RPC.MaxRetries,
		Commitment: cfg.RPC.Commitment,
	})
}

func discoverySource(opts options) ports.DiscoverySource {
	switch {
	case opts.discoveries != "":
		return discovery.NewFileSource(opts.discoveries, opts.replayDelay)
	case opts.dryRun:
		return discovery.NewSynthetic(15*time.Second, 0, time.Now().UnixNano())
	}
	return nil
}

func printStatus(ctx context.Context, console *notify.Console, mon *monitor.Monitor, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			console.PrintPools(mon.Pools(), mon.Positions(), now.UTC())
		}
	}
}

// setupLogger escribe a stderr: stdout queda para los eventos de la consola.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
