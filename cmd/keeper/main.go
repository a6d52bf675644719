package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solcrank/perp-keeper/internal/bus"
	"github.com/solcrank/perp-keeper/internal/config"
	"github.com/solcrank/perp-keeper/internal/metrics"
	"github.com/solcrank/perp-keeper/internal/model"
	"github.com/solcrank/perp-keeper/internal/price"
	"github.com/solcrank/perp-keeper/internal/registry"
	"github.com/solcrank/perp-keeper/internal/rpc"
	"github.com/solcrank/perp-keeper/internal/sched"
	"github.com/solcrank/perp-keeper/internal/store"
	"github.com/solcrank/perp-keeper/internal/stream"
	"github.com/solcrank/perp-keeper/internal/submit"
	"github.com/solcrank/perp-keeper/internal/txn"
	"github.com/solcrank/perp-keeper/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/keeper.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting keeper",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rpc_url", cfg.RPC.HTTPURL,
		"program", cfg.RPC.ProgramID,
	)

	payer, err := txn.LoadKeypair(cfg.RPC.KeypairPath)
	if err != nil {
		logger.Error("failed to load keypair", "path", cfg.RPC.KeypairPath, "error", err)
		os.Exit(1)
	}
	program, err := txn.PubkeyFromBase58(cfg.RPC.ProgramID)
	if err != nil {
		logger.Error("invalid program id", "error", err)
		os.Exit(1)
	}
	logger.Info("payer loaded", "pubkey", payer.Pubkey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	events := bus.New()
	defer events.Close()
	m := metrics.New()

	// Optional outcome sink.
	var recorder sched.Recorder
	var writer *store.OutcomeWriter
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := store.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		wcfg := store.DefaultWriterConfig()
		wcfg.Instance = cfg.Instance.ID
		writer = store.NewOutcomeWriter(wcfg, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start outcome writer", "error", err)
			os.Exit(1)
		}
		recorder = writer
		logger.Info("database connected")
	}

	rpcClient := rpc.NewClient(cfg.RPC.HTTPURL,
		rpc.WithLogger(logger),
		rpc.WithTimeout(cfg.RPC.Timeout),
		rpc.WithRetries(cfg.RPC.MaxRetries, cfg.RPC.RetryBackoff),
		rpc.WithRateLimit(cfg.RPC.RateLimit, cfg.RPC.RateBurst),
	)

	resolver := price.NewResolver(
		price.Config{
			SourceTimeout: cfg.Price.SourceTimeout,
			CacheTTL:      cfg.Price.CacheTTL,
		},
		price.NewPairsSource(cfg.Price.PrimaryURL, nil),
		price.NewAggSource(cfg.Price.SecondaryURL, nil),
		logger,
	)

	submitter := submit.New(rpcClient, payer, submit.Options{
		GuardTTL:     cfg.Submit.GuardTTL,
		MaxRetries:   cfg.Submit.MaxRetries,
		RetryBackoff: cfg.Submit.RetryBackoff,
		Logger:       logger,
	})

	reg := registry.New(registry.Policy{
		FailureThreshold: cfg.Scheduler.FailureThreshold,
		MissingLimit:     registry.MissingLimit,
	}, logger)

	scheduler := sched.New(sched.Config{
		ProgramID:        program,
		Payer:            payer.Pubkey(),
		TickInterval:     cfg.Scheduler.TickInterval,
		ActiveInterval:   cfg.Scheduler.ActiveInterval,
		InactiveInterval: cfg.Scheduler.InactiveInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		BatchPause:       cfg.Scheduler.BatchPause,
		CrankTimeout:     cfg.Scheduler.CrankTimeout,
		AllowPanic:       cfg.Scheduler.AllowPanic,
	}, rpcClient, reg, resolver, submitter, recorder, events, m, logger)

	engine := stream.NewEngine(stream.Config{
		URL:           cfg.RPC.WSURL,
		MaxReconnects: cfg.Stream.MaxReconnects,
		HistorySize:   cfg.Stream.HistorySize,
		PingTimeout:   cfg.Stream.PingTimeout,
		WriteTimeout:  cfg.Stream.WriteTimeout,
		BufferSize:    cfg.Stream.BufferSize,
	}, events, m, logger)

	// Mirror registry membership into the stream's subscriptions.
	go trackEvictions(ctx, events, engine, logger)
	go trackAdditions(ctx, reg, engine)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHTTPHandler(cfg, m, reg, scheduler, engine),
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start price stream", "error", err)
		os.Exit(1)
	}

	logger.Info("keeper running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	scheduler.Stop(shutdownCtx)
	engine.Stop(shutdownCtx)
	if writer != nil {
		writer.Stop(shutdownCtx)
	}
	httpSrv.Shutdown(shutdownCtx)

	logger.Info("keeper stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// trackAdditions keeps the stream subscribed to every tracked market.
func trackAdditions(ctx context.Context, reg *registry.Registry, engine *stream.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range reg.All() {
				engine.Track(t.Config.Address)
			}
		}
	}
}

// trackEvictions unsubscribes the stream when the registry drops a
// market.
func trackEvictions(ctx context.Context, events *bus.Bus, engine *stream.Engine, logger *slog.Logger) {
	ch, cancel := events.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Kind {
			case bus.KindMarketEvicted:
				engine.Untrack(e.Market)
			case bus.KindStreamState:
				if e.State == stream.StateStopped.String() {
					logger.Error("price stream terminally stopped", "err", e.Err)
				}
			}
		}
	}
}

// newHTTPHandler serves health, metrics, and debug endpoints.
func newHTTPHandler(cfg *config.KeeperConfig, m *metrics.Metrics, reg *registry.Registry, scheduler *sched.Scheduler, engine *stream.Engine) http.Handler {
	mux := http.NewServeMux()

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		cycle, at := scheduler.LastCycle()
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["registry"] = map[string]any{
			"markets": reg.Len(),
		}
		health.Components["scheduler"] = map[string]any{
			"last_cycle":    cycle,
			"last_cycle_at": at,
		}
		health.Components["stream"] = engine.State().String()

		switch {
		case engine.State() == stream.StateStopped:
			health.Status = "degraded"
		case reg.Len() == 0:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/markets", func(w http.ResponseWriter, r *http.Request) {
		type marketView struct {
			Config model.MarketConfig `json:"config"`
			Status model.MarketStatus `json:"status"`
			Latest *model.PricePoint  `json:"latest_price,omitempty"`
		}

		tracked := reg.All()
		out := make([]marketView, 0, len(tracked))
		for _, t := range tracked {
			v := marketView{Config: t.Config, Status: t.Status}
			if p, ok := engine.LatestPrice(t.Config.Address); ok {
				v.Latest = &p
			}
			out = append(out, v)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   len(out),
			"markets": out,
		})
	})

	return mux
}
