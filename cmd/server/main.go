package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"engagement-engine/backend/internal/api"
	"engagement-engine/backend/internal/auth"
	"engagement-engine/backend/internal/config"
	"engagement-engine/backend/internal/engine"
	"engagement-engine/backend/internal/events"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/mcp"
	"engagement-engine/backend/internal/repository"
	selfsigned "engagement-engine/backend/internal/tls"
)

func main() {
	var configPath string
	var inMemory bool

	root := &cobra.Command{
		Use:   "engagement-server",
		Short: "Workflow instantiation and progression engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, inMemory)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to config file")
	root.Flags().BoolVar(&inMemory, "in-memory", false, "Run against an in-memory store (development only)")

	if err := root.Execute(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(ctx context.Context, configPath string, inMemory bool) error {
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("Starting Engagement Engine",
		"environment", cfg.Environment,
		"auth_enabled", cfg.Auth.Enabled,
		"mcp_enabled", cfg.MCP.Enabled,
		"in_memory", inMemory,
	)

	// Initialize repository layer
	var store repository.Store
	if inMemory {
		store = repository.NewMemoryStore()
		logger.Warn("using in-memory store, state is not persisted")
	} else {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer dbPool.Close()
		store = repository.NewPostgresStore(dbPool)
		logger.Info("Database connected")
	}

	// Initialize engine
	publisher := events.NewStorePublisher(store, logger)
	templateTTL := time.Duration(cfg.Cache.TemplateTTLSeconds) * time.Second
	eng := engine.New(store, publisher, logger, templateTTL)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("engagement-engine"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.Middleware())
	server := api.NewServer(eng, store, logger)
	api.RegisterHandlers(apiGroup, server)
	e.GET("/healthz", server.HandleHealth)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(eng)
		mcpHandlers := http.NewServeMux()
		mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
		e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
		logger.Info("MCP protocol handlers mounted")
	}

	// Create HTTP server
	addr := cfg.Server.Addr
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) && len(cfg.TLS.Hostnames) > 0 {
				if err := selfsigned.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
					logger.Error("failed to generate self-signed cert", "error", err)
				}
			}
			serverErrors <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
