package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/cors"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/agentindex/agentindexd/internal/config"
	"github.com/agentindex/agentindexd/internal/discovery"
	"github.com/agentindex/agentindexd/internal/embedding"
	"github.com/agentindex/agentindexd/internal/health"
	"github.com/agentindex/agentindexd/internal/middleware"
	"github.com/agentindex/agentindexd/internal/registry"
	"github.com/agentindex/agentindexd/internal/store"
	"github.com/agentindex/agentindexd/internal/vectorindex"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agentindexd HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("unable to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("cannot reach postgres", "error", err)
		os.Exit(1)
	}

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("schema migrated")

	qdrantHost, qdrantPort := splitHostPort(cfg.QdrantURL, 6334)
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{Host: qdrantHost, Port: qdrantPort})
	if err != nil {
		logger.Error("unable to create qdrant client", "error", err)
		os.Exit(1)
	}
	idx := vectorindex.New(qdrantClient)
	if err := idx.EnsureCollection(ctx); err != nil {
		logger.Error("unable to ensure vector collection", "error", err)
		os.Exit(1)
	}

	var modelClient *openai.Client
	if cfg.EmbedAPIKey != "" {
		modelClient = openai.NewClient(cfg.EmbedAPIKey)
	}
	embedder := embeddingFromClient(modelClient, cfg.EmbedModel)

	sAdapter := storeAdapter{s: st}
	viAdapter := vectorIndexAdapter{idx: idx}

	registrySvc := &registry.Service{Store: sAdapter, VectorIndex: viAdapter, Embedder: embedder}
	validator, err := registry.NewValidator()
	if err != nil {
		logger.Error("unable to compile register schema", "error", err)
		os.Exit(1)
	}

	discoverySvc := &discovery.Service{
		Embedder:             embedder,
		VectorIndex:          viAdapter,
		Store:                sAdapter,
		Weights:              discovery.Weights{Sim: cfg.SearchWeightSim, Rep: cfg.SearchWeightRep, Avail: cfg.SearchWeightAvail},
		HeartbeatTTL:         time.Duration(cfg.HeartbeatTTLMS) * time.Millisecond,
		LexicalScore:         cfg.LexicalScore,
		Logger:               logger,
		DefaultMinReputation: cfg.MinRepDiscover,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agent/register", registry.RegisterHandler(registrySvc, validator))
	mux.HandleFunc("GET /v1/agent/{did}/lineage", registry.LineageHandler(registrySvc))
	mux.HandleFunc("POST /v1/agent/discovery", discovery.Handler(discoverySvc))
	mux.HandleFunc("POST /v1/agent/reputation", registry.ReputationHandler(st))
	mux.HandleFunc("POST /v1/agent/availability", registry.AvailabilityHandler(st))
	mux.HandleFunc("GET /v1/capability/{id}/schema", registry.CapabilitySchemaHandler(st))
	mux.HandleFunc("POST /admin/reindex", health.ReindexHandler(st, embedder, reindexVectorIndexAdapter{idx: idx}, logger))
	mux.HandleFunc("GET /health", health.Handler(st, viAdapter))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowMS)*time.Millisecond)

	var handler http.Handler = mux
	handler = middleware.APIKeyGuard(cfg.APIKey)(handler)
	handler = rateLimiter.Middleware(handler)
	handler = middleware.LimitBody(handler)
	handler = middleware.RequestID(logger)(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins: []string{cfg.CORSOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "x-api-key", "x-request-id", "x-correlation-id"},
	}).Handler(handler)

	addr := "0.0.0.0:" + cfg.Port
	logger.Info("starting http server", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	return nil
}

func splitHostPort(hostport string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

func embeddingFromClient(c *openai.Client, modelName string) *embedding.Embedder {
	if c == nil {
		return embedding.New(nil, "", 4096)
	}
	return embedding.New(c, modelName, 4096)
}
