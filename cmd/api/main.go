// Package main implements the fitment API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sssolid/crown-nexus/engine/fitment"
	"github.com/sssolid/crown-nexus/engine/graph"
	"github.com/sssolid/crown-nexus/engine/mapping"
	"github.com/sssolid/crown-nexus/engine/resolve"
	"github.com/sssolid/crown-nexus/pkg/fn"
	"github.com/sssolid/crown-nexus/pkg/mid"
	"github.com/sssolid/crown-nexus/pkg/repo"
	"github.com/sssolid/crown-nexus/pkg/resilience"
)

// healthService is the gRPC health service name reported by this server.
const healthService = "crown.fitment"

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	GRPCPort   string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	NATSURL    string
	CORSOrigin string
	Workers    int
	RateLimit  float64
	RateBurst  int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		GRPCPort:   envOr("GRPC_PORT", "9090"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		NATSURL:    os.Getenv("NATS_URL"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		Workers:    envInt("WORKERS", 8),
		RateLimit:  envFloat("RATE_LIMIT", 50),
		RateBurst:  envInt("RATE_BURST", 100),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(context.Background())

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		Name:          "neo4j",
		FailThreshold: 5,
		Timeout:       30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
	graphStore := graph.New(neo4jDriver, graph.WithBreaker(breaker))
	if err := graphStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// --- Connect to NATS (optional) ---
	var nc *nats.Conn
	storeOpts := []mapping.StoreOption{mapping.WithLogger(logger)}
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("fitment-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		storeOpts = append(storeOpts, mapping.WithNotifier(fitment.NewChangePublisher(nc, logger)))
	}

	// --- Mapping store and cache ---
	store := mapping.NewNeo4jStore(repo.NewDriverOpener(neo4jDriver, ""), storeOpts...)
	cache := mapping.NewCache(store, logger)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	err = fn.RetryErr(ctx, fn.RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Second,
		MaxWait:     15 * time.Second,
		Jitter:      true,
		OnRetry: func(attempt int, err error) {
			logger.Warn("initial mapping refresh failed, retrying", "attempt", attempt, "err", err)
		},
	}, func(ctx context.Context) error {
		_, err := cache.Refresh(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("initial mapping refresh: %w", err)
	}
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	// --- Build fitment service ---
	svc := fitment.NewService(
		resolve.NewVehicleResolver(cache, graphStore, logger),
		resolve.NewPositionResolver(graphStore),
		graphStore,
		fitment.Options{Workers: cfg.Workers, Logger: logger},
	)

	if nc != nil {
		subs, err := fitment.Serve(nc, svc, cache, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
		}()
		logger.Info("nats responders registered", "subjects", []string{fitment.SubjectProcess, fitment.SubjectRefresh})
	}

	// --- Build HTTP server ---
	api := &server{
		svc:      svc,
		mappings: store,
		cache:    cache,
		products: graphStore,
		logger:   logger,
	}
	mux := api.routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := mid.Chain(mux,
		mid.OTel("fitment-api"),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(prometheus.DefaultRegisterer),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateLimit, cfg.RateBurst),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- gRPC health ---
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("grpc health server starting", "port", cfg.GRPCPort)
		errCh <- grpcSrv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			grpcSrv.Stop()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
