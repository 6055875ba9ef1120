package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"market-stream/internal/cache"
	"market-stream/internal/config"
	"market-stream/internal/metrics"
	"market-stream/internal/server"
	"market-stream/internal/storage"
	"market-stream/internal/stream"
	"market-stream/internal/subscription"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("streamcache starting",
		slog.Int("port", cfg.Port),
		slog.String("transport", cfg.Stream.Transport),
		slog.String("addr", streamTarget(cfg.Stream)),
		slog.Bool("orders", cfg.Stream.Orders.Enabled),
	)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Cache
	cc := cache.New(logger)
	metrics.RegisterCache(reg, cc.Stats)

	// Archive + session metadata (optional)
	var store *storage.Store
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			logger.Error("create storage dir", slog.String("err", err.Error()))
			os.Exit(1)
		}
		store, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			logger.Error("open storage", slog.String("path", cfg.Storage.Path), slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
	}

	// Stream client
	tracker := subscription.NewTracker()
	opts := []stream.Option{stream.WithMetrics(m), stream.WithTracker(tracker)}
	if store != nil {
		opts = append(opts, stream.WithSessionStore(store))
	}
	client := stream.NewClient(stream.Config{
		AppKey:            cfg.Stream.AppKey,
		Market:            cfg.Stream.Markets,
		Order:             cfg.Stream.Orders,
		MaxMalformedLines: cfg.Stream.MaxMalformedLines,
		HandshakeTimeout:  cfg.Stream.DialTimeout,
		HeartbeatSlack:    cfg.Stream.HeartbeatSlack,
		KeepAlive:         cfg.Stream.KeepAlive,
		BaseBackoff:       cfg.Stream.BaseBackoff,
		MaxBackoff:        cfg.Stream.MaxBackoff,
	}, newDialer(cfg.Stream), stream.StaticToken(cfg.Stream.SessionToken), cc, logger, opts...)

	// HTTP server + WS hub
	deps := server.Deps{
		Cache:    cc,
		Stream:   client,
		Tracker:  tracker,
		Metrics:  m,
		Gatherer: reg,
	}
	if store != nil {
		deps.Archive = store
		deps.Session = store
	}
	srv := server.NewHTTPServer(deps, logger)

	// Context & signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := client.Run(ctx); err != nil {
			logger.Error("stream stopped", slog.String("err", err.Error()))
			cancel()
		}
	}()

	// Pipe client updates → hub
	go func() {
		wasConnected := false
		for {
			select {
			case u := <-client.Updates():
				if c := client.Connected(); c != wasConnected {
					wasConnected = c
					srv.BroadcastStatus()
				}
				srv.PublishMarkets(u.Markets)
			case err := <-client.Errors():
				logger.Error("stream error", slog.String("err", err.Error()))
				srv.BroadcastError(err.Error())
				if wasConnected {
					wasConnected = false
					srv.BroadcastStatus()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go sweep(ctx, cfg.Storage, cc, tracker, store, logger)

	// HTTP serving
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	srv.Close()
	<-streamDone
	<-done
	logger.Info("bye")
}

func streamTarget(s config.Stream) string {
	if s.Transport == "ws" {
		return s.URL
	}
	return s.Addr
}

func newDialer(s config.Stream) stream.Dialer {
	if s.Transport == "ws" {
		return stream.WSDialer{URL: s.URL, Timeout: s.DialTimeout, MaxLineBytes: s.MaxLineBytes}
	}
	return stream.TLSDialer{Addr: s.Addr, Timeout: s.DialTimeout, MaxLineBytes: s.MaxLineBytes}
}

// sweep evicts markets that have been closed for a while, archiving their
// final view, and prunes the archive.
func sweep(ctx context.Context, cfg config.Storage, cc *cache.Cache, tracker *subscription.Tracker, store *storage.Store, logger *slog.Logger) {
	if cfg.EvictClosedAfter <= 0 {
		return
	}
	t := time.NewTicker(cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, v := range cc.EvictClosed(now.Add(-cfg.EvictClosedAfter)) {
				tracker.Forget(v.ID)
				if store == nil {
					continue
				}
				if err := store.ArchiveMarket(ctx, v); err != nil {
					logger.Error("archive market", slog.String("id", v.ID), slog.String("err", err.Error()))
					continue
				}
				logger.Info("market archived", slog.String("id", v.ID), slog.String("status", v.Status()))
			}
			if store != nil && cfg.ArchiveRetention > 0 {
				n, err := store.PruneArchive(ctx, now.Add(-cfg.ArchiveRetention))
				if err != nil {
					logger.Error("prune archive", slog.String("err", err.Error()))
				} else if n > 0 {
					logger.Info("archive pruned", slog.Int64("markets", n))
				}
			}
		}
	}
}
