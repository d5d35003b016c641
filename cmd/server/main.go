package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/notaflow/notaflow/internal/analyzer"
	"github.com/notaflow/notaflow/internal/api"
	"github.com/notaflow/notaflow/internal/classifier"
	"github.com/notaflow/notaflow/internal/config"
	"github.com/notaflow/notaflow/internal/db"
	"github.com/notaflow/notaflow/internal/extractor"
	"github.com/notaflow/notaflow/internal/integration"
	"github.com/notaflow/notaflow/internal/middleware"
	"github.com/notaflow/notaflow/internal/pipeline"
	"github.com/notaflow/notaflow/internal/queue"
	"github.com/notaflow/notaflow/internal/repository"
	"github.com/notaflow/notaflow/internal/schema"
	"github.com/notaflow/notaflow/internal/validator"
	"github.com/notaflow/notaflow/internal/vision"
	"github.com/notaflow/notaflow/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()
	if err := db.RunMigrations(cfg.Database, cfg.Migrations); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	docRepo := repository.NewDocumentRepository(conn.Pool)
	stageRepo := repository.NewStageLogRepository(conn.Pool)
	batchRepo := repository.NewBatchRepository(conn.Pool)
	credRepo := repository.NewCredentialRepository(conn.Pool)

	registry, err := schema.Open(cfg.SchemaPath, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open tax schema registry: %w", err)
	}

	var backend vision.Backend
	var text classifier.TextExtractor
	if cfg.Vision.Enabled {
		vertex, err := vision.NewVertexBackend(ctx, cfg.Vision.VertexConfig)
		if err != nil {
			return fmt.Errorf("failed to start vision backend: %w", err)
		}
		defer vertex.Close()
		backend = vertex
		text = vertex
	} else {
		slog.Warn("vision backend disabled, scanned documents will not be extracted")
	}

	var vault *integration.Vault
	var integrator pipeline.Integrator
	if cfg.Integration.Enabled {
		vault, err = integration.NewVault(cfg.Integration.VaultPassphrase)
		if err != nil {
			return fmt.Errorf("failed to open certificate vault: %w", err)
		}
		integrator = buildIntegrator(ctx, cfg.Integration, vault, credRepo)
	}

	orchestrator := pipeline.New(pipeline.Deps{
		Documents:   docRepo,
		StageLogs:   stageRepo,
		Classifier:  classifier.New(text, slog.Default()),
		Extractor:   extractor.New(backend, slog.Default()),
		Validator:   validator.New(cfg.Validation),
		Analyzer:    analyzer.New(),
		Integrator:  integrator,
		Retry:       cfg.Retry,
		ExtractGate: cfg.Queue.ExtractGate(),
	})

	queueCfg := cfg.Queue
	queueCfg.Integrate = queueCfg.Integrate && integrator != nil
	manager := queue.NewManager(batchRepo, docRepo, orchestrator, registry, queueCfg, slog.Default())
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	handler := api.New(api.Deps{
		Manager:     manager,
		Registry:    registry,
		Documents:   docRepo,
		Batches:     batchRepo,
		StageLogs:   stageRepo,
		Credentials: credRepo,
		Analyzer:    analyzer.New(),
		Vault:       vault,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      corsHandler.Handler(middleware.Logging(slog.Default())(handler)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := manager.Close(); err != nil {
		return fmt.Errorf("queue manager shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}

// buildIntegrator wires the authority client when a certificate is already
// imported. Without one the server still runs; integration stays off until
// the certificate arrives and the server restarts.
func buildIntegrator(ctx context.Context, cfg config.IntegrationConfig, vault *integration.Vault, creds repository.CredentialRepository) pipeline.Integrator {
	cert, err := creds.GetByAlias(ctx, cfg.CertificateAlias)
	if err != nil {
		slog.Warn("integration certificate not available, integration disabled",
			"alias", cfg.CertificateAlias, "error", err)
		return nil
	}
	client := integration.NewHTTPAuthority(cfg.BaseURL, cert, vault, cfg.Timeout)
	return integration.NewAdapter(client,
		integration.ManifestationAction(cfg.DefaultAction), slog.Default())
}
