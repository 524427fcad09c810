package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/depthlab/bookfeed/internal/book"
	"github.com/depthlab/bookfeed/internal/config"
	"github.com/depthlab/bookfeed/internal/connector"
	"github.com/depthlab/bookfeed/internal/fastpath"
	"github.com/depthlab/bookfeed/internal/feed"
	"github.com/depthlab/bookfeed/internal/ingest"
	"github.com/depthlab/bookfeed/internal/maintainer"
	"github.com/depthlab/bookfeed/internal/metrics"
	"github.com/depthlab/bookfeed/internal/model"
	"github.com/depthlab/bookfeed/internal/rest"
	"github.com/depthlab/bookfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bookfeed.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bookfeed",
		"build", version.String(),
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"venues", len(cfg.Venues),
	)

	metrics.Init()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Core state
	storeOpts := []book.StoreOption{book.WithLogger(logger)}
	if cfg.Books.MaxDepth > 0 {
		storeOpts = append(storeOpts, book.WithMaxDepth(cfg.Books.MaxDepth))
	}
	store := book.NewStore(storeOpts...)

	features := fastpath.NewEngine(fastpath.Config{
		Horizon:  cfg.Features.Horizon,
		PerVenue: cfg.Features.PerVenue,
	})

	// Per-venue connectors
	streams := make(venueStreams, len(cfg.Venues))
	sources := make(venueSources, len(cfg.Venues))
	for _, v := range cfg.Venues {
		streamCfg := connector.DefaultStreamConfig()
		streamCfg.Venue = v.Name
		streamCfg.URL = v.WSURL
		streamCfg.PingInterval = cfg.Stream.PingInterval
		streamCfg.WriteTimeout = cfg.Stream.WriteTimeout
		streamCfg.ReconnectBaseDelay = cfg.Stream.ReconnectBaseDelay
		streamCfg.ReconnectMaxDelay = cfg.Stream.ReconnectMaxDelay
		streamCfg.BufferSize = cfg.Stream.BufferSize
		streams[v.Name] = connector.NewStream(streamCfg, logger)

		sources[v.Name] = connector.NewSnapshotClient(
			v.RestURL,
			connector.WithTimeout(cfg.Ingest.ResyncTimeout),
			connector.WithRetries(2, cfg.Ingest.ResyncBaseDelay),
			connector.WithSnapshotLogger(logger),
		)
	}

	// Engine
	engineCfg := maintainer.Config{
		Ingest: ingest.Config{
			InboxSize:         cfg.Ingest.InboxSize,
			DeltaBufferSize:   cfg.Ingest.DeltaBufferSize,
			StalenessTimeout:  cfg.Ingest.StalenessTimeout,
			ResyncTimeout:     cfg.Ingest.ResyncTimeout,
			ResyncMaxAttempts: cfg.Ingest.ResyncMaxAttempts,
			ResyncBaseDelay:   cfg.Ingest.ResyncBaseDelay,
			ResyncMaxDelay:    cfg.Ingest.ResyncMaxDelay,
		},
		AggregateDepth: cfg.Books.AggregateDepth,
	}
	engine := maintainer.New(engineCfg, store, features, sources, streams, logger)
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Start venue streams and fan their output into one router input.
	input := make(chan connector.RawMessage, cfg.Stream.BufferSize)
	g, gctx := errgroup.WithContext(ctx)
	for name, stream := range streams {
		if err := stream.Start(ctx); err != nil {
			logger.Error("failed to start stream", "venue", name, "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-stream.Messages():
					if !ok {
						return nil
					}
					select {
					case input <- msg:
					case <-gctx.Done():
						return nil
					}
				}
			}
		})
	}

	router := feed.NewRouter(input, engine, logger)
	if err := router.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Startup subscriptions from config. Streams may still be dialing;
	// retry in the background until the feed accepts the subscription.
	for _, v := range cfg.Venues {
		for _, symbol := range v.Symbols {
			g.Go(subscribeWithRetry(gctx, engine, v.Name, symbol, logger))
		}
	}

	// Query API
	apiServer := rest.NewServer(rest.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, logger)

	g.Go(func() error {
		return apiServer.Start()
	})

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux,
	}
	g.Go(func() error {
		logger.Info("metrics listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Info("bookfeed running")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	apiServer.Stop(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
	router.Stop(shutdownCtx)
	for name, stream := range streams {
		if err := stream.Stop(shutdownCtx); err != nil {
			logger.Warn("stream stop failed", "venue", name, "error", err)
		}
	}
	engine.Stop(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bookfeed stopped")
}

// subscribeWithRetry keeps trying a startup subscription until the venue
// stream is connected or the context ends.
func subscribeWithRetry(ctx context.Context, engine maintainer.Maintainer, venue, symbol string, logger *slog.Logger) func() error {
	return func() error {
		wait := time.Second
		for {
			err := engine.Subscribe(venue, symbol)
			if err == nil {
				return nil
			}
			logger.Warn("startup subscription failed, retrying",
				"venue", venue, "symbol", symbol, "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			if wait < 30*time.Second {
				wait *= 2
			}
		}
	}
}

// venueStreams routes feed subscription changes to the right stream.
type venueStreams map[string]*connector.Stream

func (s venueStreams) Subscribe(venue, symbol string) error {
	stream, ok := s[venue]
	if !ok {
		return fmt.Errorf("unknown venue %q", venue)
	}
	return stream.Subscribe(symbol)
}

func (s venueStreams) Unsubscribe(venue, symbol string) error {
	stream, ok := s[venue]
	if !ok {
		return fmt.Errorf("unknown venue %q", venue)
	}
	return stream.Unsubscribe(symbol)
}

// venueSources routes snapshot requests to the right REST client.
type venueSources map[string]*connector.SnapshotClient

func (s venueSources) RequestSnapshot(ctx context.Context, key model.Key) (ingest.Snapshot, error) {
	client, ok := s[key.Venue]
	if !ok {
		return ingest.Snapshot{}, fmt.Errorf("unknown venue %q", key.Venue)
	}
	resp, err := client.Fetch(ctx, key.Venue, key.Symbol)
	if err != nil {
		return ingest.Snapshot{}, err
	}
	return ingest.Snapshot{
		Bids:     resp.Bids,
		Asks:     resp.Asks,
		Sequence: resp.Sequence,
	}, nil
}
