package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mamed-gasimov/image-service/internal/config"
	"github.com/mamed-gasimov/image-service/internal/database"
	"github.com/mamed-gasimov/image-service/internal/logging"
	"github.com/mamed-gasimov/image-service/internal/modules/analysis"
	openaiprovider "github.com/mamed-gasimov/image-service/internal/modules/analysis/openai"
	"github.com/mamed-gasimov/image-service/internal/modules/images"
	"github.com/mamed-gasimov/image-service/internal/server"
	miniostorage "github.com/mamed-gasimov/image-service/internal/storage/minio"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "image-service",
		Short:         "Image ingestion API with content-addressed deduplication",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Provision storage, apply migrations and serve the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), envFile)
		},
	})

	return root
}

func setup(envFile string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Development: cfg.DevelopmentMode,
	})

	return cfg, logger, nil
}

func runMigrate(ctx context.Context, envFile string) error {
	cfg, logger, err := setup(envFile)
	if err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, database.PoolOptions{DSN: cfg.PostgresDSN(), MaxConns: 1})
	if err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Error().Err(err).Msg("migrations failed")
		return err
	}
	return nil
}

func runServe(ctx context.Context, envFile string) error {
	cfg, logger, err := setup(envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	// --- Database -----------------------------------------------------------
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := database.NewPool(startCtx, database.PoolOptions{
		DSN:      cfg.PostgresDSN(),
		MaxConns: cfg.PostgresMaxConns,
		MinConns: 1,
	})
	if err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return err
	}
	defer pool.Close()
	logger.Info().Int32("max_conns", cfg.PostgresMaxConns).Msg("connected to PostgreSQL")

	if err := database.Migrate(startCtx, pool, logger); err != nil {
		logger.Error().Err(err).Msg("migrations failed")
		return err
	}

	// --- Object Storage (MinIO) ---------------------------------------------
	store, err := miniostorage.New(miniostorage.Options{
		Endpoint:       cfg.MinioEndpoint,
		AccessKey:      cfg.MinioAccessKey,
		SecretKey:      cfg.MinioSecretKey,
		Bucket:         cfg.MinioBucket,
		Region:         cfg.MinioRegion,
		UseSSL:         cfg.MinioUseSSL,
		RetryAttempts:  cfg.BucketRetryAttempts,
		RetryBaseDelay: cfg.BucketRetryBaseDelay,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init minio")
		return err
	}

	// No uploads are accepted unless the bucket reached READY.
	state, err := store.EnsureBucket(ctx)
	if err != nil {
		logger.Error().Err(err).Stringer("state", state).Msg("bucket provisioning failed")
		return err
	}
	logger.Info().Str("bucket", store.Bucket()).Stringer("state", state).Msg("bucket is ready")

	// --- Layers -------------------------------------------------------------
	var annotator analysis.Annotator
	if cfg.AnnotationEnabled() {
		annotator = openaiprovider.NewProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		logger.Info().Str("model", cfg.OpenAIModel).Msg("image annotation enabled")
	}

	imageRepo := images.NewImageRepository(pool)
	imageSvc := images.NewImageService(imageRepo, store, annotator, images.ServiceOptions{
		PresignTTL:        cfg.PresignTTL,
		AnnotationTimeout: cfg.AnnotationTimeout,
	}, logger)
	imageHandler := images.NewImageHandler(imageSvc, cfg.MaxUploadBytes, logger)

	e := server.New(imageHandler, server.Options{
		APIKey:         cfg.APIKey,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	// --- Graceful shutdown ---------------------------------------------------
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.ServerPort
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server stopped")
		return err
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return e.Shutdown(shutdownCtx)
}
