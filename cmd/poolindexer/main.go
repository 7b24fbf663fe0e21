package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PoolIndexer/internal/chain"
	"PoolIndexer/internal/config"
	"PoolIndexer/internal/core"
	"PoolIndexer/internal/ingestion"
	"PoolIndexer/internal/observability"
	"PoolIndexer/internal/persistence"
	"PoolIndexer/internal/query"
	"PoolIndexer/internal/server"
	"PoolIndexer/internal/state"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// indexStore is the union the core and the query service need.
type indexStore interface {
	state.EntityStore
	query.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("poolindexer", observability.ParseLogLevel(cfg.LogLevel))
	indexerID := uuid.NewString()
	logger.Info().Str("indexer_id", indexerID).Str("store", cfg.Store).Msg("PoolIndexer starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	store, db, err := openStore(ctx, cfg, indexerID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	if db != nil {
		defer db.Close()
		healthChecker.AddCheck("database", db.PingContext)
	}

	// --- Ethereum RPC ---
	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial rpc")
	}
	defer client.Close()

	var caller chain.Caller = client
	if cfg.ReadCacheSize > 0 {
		cached, err := chain.NewCachingCaller(client, cfg.ReadCacheSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("contract read cache")
		}
		caller = cached
	}
	reader, err := chain.NewEthReader(caller)
	if err != nil {
		logger.Fatal().Err(err).Msg("contract reader")
	}

	var readPool pond.Pool
	if cfg.ReadConcurrency > 1 {
		readPool = pond.NewPool(cfg.ReadConcurrency)
		defer readPool.StopAndWait()
	}
	fetcher := chain.NewFetcher(reader, readPool, logger, metrics.ContractReadFailed)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}

	// --- Core ---
	poolAccounting, err := state.ParseAccounting(cfg.PoolAccounting)
	if err != nil {
		logger.Fatal().Err(err).Msg("pool accounting")
	}
	nftAccounting, err := state.ParseAccounting(cfg.NFTPoolAccounting)
	if err != nil {
		logger.Fatal().Err(err).Msg("nft pool accounting")
	}

	outputs := make(chan core.Output, cfg.OutputChanSize)
	engine, err := core.NewEngine(core.Config{
		ProtocolID:        cfg.ProtocolID,
		DedupCapacity:     cfg.DedupCapacity,
		PoolFactories:     cfg.PoolFactories,
		NFTPoolFactories:  cfg.NFTPoolFactories,
		PoolAccounting:    poolAccounting,
		NFTPoolAccounting: nftAccounting,
	}, store, fetcher, ingestion.NewWatchRegistry(js, indexerID), metrics, logger, outputs)
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine")
	}

	// --- Recovery ---
	if err := engine.Recover(ctx); err != nil {
		logger.Fatal().Err(err).Msg("recover")
	}

	// --- Event channel from NATS and admin injection to the pipeline ---
	rawEventChan := make(chan ingestion.RawEvent, cfg.EventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger)
	if err := natsSubscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	pipeline := ingestion.NewPipeline(engine, metrics, logger)
	changePublisher := ingestion.NewChangePublisher(js, outputs, indexerID, metrics, logger)

	// --- gRPC + HTTP server ---
	srv := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		QueryService:  query.NewQueryService(store),
		Injector:      ingestion.NewInjector(rawEventChan),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		ProtocolID:    engine.ProtocolID(),
		StartTime:     time.Now(),
	}, logger)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Ingestion pipeline, the only caller of the core
	go func() {
		errChan <- pipeline.Run(ctx, rawEventChan)
	}()

	// 2. Change publisher
	go func() {
		errChan <- changePublisher.Run(ctx)
	}()

	// 3. gRPC server
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()

	// 4. HTTP gateway
	go func() {
		errChan <- srv.StartHTTPGateway(ctx)
	}()

	// 5. Prometheus metrics server
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr, logger)
	}()

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("PoolIndexer ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	srv.SetServing(false)
	natsSubscriber.Stop()
	cancel()

	logger.Info().Int64("sequence", engine.GetSequence()).Msg("PoolIndexer shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config, indexerID string, logger zerolog.Logger) (indexStore, *sql.DB, error) {
	var dialect persistence.Dialect
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn().Msg("memory store: state is lost on restart")
		return state.NewMemoryStore(), nil, nil
	case config.StorePostgres:
		dialect = persistence.DialectPostgres
	default:
		dialect = persistence.DialectSQLite
	}

	db, err := persistence.Open(ctx, dialect, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := persistence.NewMigrator(db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return persistence.NewSQLStore(db, dialect, indexerID), db, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
