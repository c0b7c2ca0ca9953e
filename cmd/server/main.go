package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"crucible/internal/capabilities"
	"crucible/internal/config"
	"crucible/internal/domain/repositories"
	"crucible/internal/handler"
	"crucible/internal/middleware"
	"crucible/internal/repository/memory"
	"crucible/internal/repository/postgres"
	"crucible/internal/service/history"
	serviceLLM "crucible/internal/service/llm"
	"crucible/internal/service/turn"
	"crucible/internal/service/upload"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	ctx := context.Background()

	// Storage: postgres when DATABASE_URL is set, otherwise an
	// in-memory store for local development without a database.
	var (
		threadRepo     repositories.ThreadRepository
		checkpointRepo repositories.CheckpointRepository
		txManager      repositories.TransactionManager
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.Migrate(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to migrate schema: %v", err)
		}
		logger.Info("database connected", "max_conns", 25, "min_conns", 5)

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		}
		threadRepo = postgres.NewThreadRepository(repoConfig)
		checkpointRepo = postgres.NewCheckpointRepository(repoConfig)
		txManager = postgres.NewTransactionManager(pool)
	} else {
		logger.Warn("DATABASE_URL not set - using in-memory store, data is not persisted")
		store := memory.NewStore()
		threadRepo = store.Threads()
		checkpointRepo = store.Checkpoints()
		txManager = store
	}

	// JWT auth (disabled when AUTH_JWKS_URL is unset)
	jwtAuth, err := middleware.NewJWTAuth(cfg.AuthJWKSURL, logger)
	if err != nil {
		log.Fatalf("Failed to create JWT verifier: %v", err)
	}

	// LLM providers
	providerRegistry, err := serviceLLM.SetupProviders(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM providers: %v", err)
	}

	// Model catalog
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load model catalog: %v", err)
	}

	// Services
	historyService := history.NewService(threadRepo, checkpointRepo, txManager, logger)
	turnManager := turn.NewManager(historyService, providerRegistry, logger)
	uploadService := upload.NewService(logger)

	// Handlers
	threadHandler := handler.NewThreadHandler(historyService, logger)
	historyHandler := handler.NewHistoryHandler(historyService, logger)
	modelsHandler := handler.NewModelsHandler(capabilityRegistry, cfg)
	uploadHandler := handler.NewUploadHandler(uploadService, logger)
	wsHandler := handler.NewWSHandler(turnManager, cfg, logger)

	logger.Info("services initialized")

	// HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Thread routes
	mux.HandleFunc("GET /api/threads", threadHandler.ListThreads)
	mux.HandleFunc("GET /api/threads/{thread_id}", threadHandler.GetThread)
	mux.HandleFunc("POST /api/threads/{thread_id}", threadHandler.EnsureThread)
	mux.HandleFunc("PATCH /api/threads/{thread_id}", threadHandler.RenameThread)
	mux.HandleFunc("DELETE /api/threads/{thread_id}", threadHandler.DeleteThread)

	// History routes
	mux.HandleFunc("GET /api/threads/{thread_id}/tree", historyHandler.GetTree)
	mux.HandleFunc("GET /api/threads/{thread_id}/messages", historyHandler.GetMessages)
	mux.HandleFunc("POST /api/threads/{thread_id}/checkpoint", historyHandler.SetActiveCheckpoint)
	mux.HandleFunc("POST /api/threads/{thread_id}/positions", historyHandler.SavePositions)
	mux.HandleFunc("GET /api/threads/{thread_id}/search", historyHandler.Search)
	mux.HandleFunc("DELETE /api/threads/{thread_id}/checkpoints/{checkpoint_id}", historyHandler.DeleteCheckpoint)

	// Model catalog
	mux.HandleFunc("GET /api/models", modelsHandler.ListModels)

	// Upload
	mux.HandleFunc("POST /api/upload", uploadHandler.Upload)

	// WebSocket chat
	mux.HandleFunc("GET /ws/{thread_id}", wsHandler.Serve)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = jwtAuth.Middleware(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived WebSocket streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
