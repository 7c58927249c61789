package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-grounding/pkg/auth"
	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
	"github.com/ekaya-inc/ekaya-grounding/pkg/handlers"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
	"github.com/ekaya-inc/ekaya-grounding/pkg/mcp"
	"github.com/ekaya-inc/ekaya-grounding/pkg/middleware"
	"github.com/ekaya-inc/ekaya-grounding/pkg/services"
	sqlguard "github.com/ekaya-inc/ekaya-grounding/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("semantic_model", cfg.SemanticModelPath),
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.String("planner", cfg.Generator.Planner),
		zap.String("dialect", cfg.Generator.Dialect),
		zap.Bool("dry_run", cfg.Generator.EnableDryRun),
		zap.Bool("auth_required", cfg.Auth.Required))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var warehouse datasource.Adapter
	if cfg.NeedsWarehouse() {
		dsn := cfg.Warehouse.DSN()
		warehouse, err = datasource.Open(ctx, cfg.Warehouse.Type, dsn)
		if err != nil {
			logger.Fatal("Failed to connect to warehouse",
				zap.String("dsn", logging.SanitizeDSN(dsn)),
				zap.String("error", logging.SanitizeError(err)))
		}
		defer warehouse.Close()
		logger.Info("Warehouse connected", zap.String("dsn", logging.SanitizeDSN(dsn)))
	}

	var source catalog.Source = catalog.NewFileSource(cfg.Catalog.SnapshotPath)
	if cfg.Catalog.Source == "warehouse" {
		source = catalog.NewDatasourceSource(warehouse, nil, logger)
	}
	source = catalog.NewCachedSource(source, cfg.Catalog.CacheTTL())

	var dryRunner datasource.DryRunner
	if warehouse != nil {
		dryRunner = warehouse
	}
	guardrail := sqlguard.NewGuardrail(dryRunner, cfg.Generator.EnableDryRun, logger)

	planner, err := services.BuildPlanner(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to configure planner", zap.Error(err))
	}

	svc, err := services.NewTextToSQLService(&cfg.Generator, source, planner, guardrail, logger)
	if err != nil {
		logger.Fatal("Failed to create text-to-SQL service", zap.Error(err))
	}
	if err := svc.LoadModel(ctx, cfg.SemanticModelPath); err != nil {
		logger.Fatal("Failed to load semantic model",
			zap.String("path", cfg.SemanticModelPath),
			zap.Error(err))
	}

	// Health endpoints stay open; the API and MCP routes sit behind auth
	// when it is required.
	protected := http.NewServeMux()
	handlers.NewSQLHandler(svc, logger.Named("api")).RegisterRoutes(protected)
	protected.Handle("/mcp", mcp.NewGroundingServer(cfg.Version, svc, logger).NewStreamableHTTPServer())

	var guarded http.Handler = protected
	if cfg.Auth.Required {
		jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
			EnableVerification: cfg.Auth.EnableVerification,
			JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
			Audience:           cfg.Auth.Audience,
		})
		if err != nil {
			logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
		}
		if !cfg.Auth.EnableVerification {
			logger.Warn("Bearer tokens are accepted without signature verification")
		}
		guarded = auth.NewMiddleware(jwksClient, logger.Named("auth")).RequireAuth(protected)
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, svc, logger).RegisterRoutes(mux)
	mux.Handle("/api/", guarded)
	mux.Handle("/mcp", guarded)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger.Named("http"))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting ekaya-grounding",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
