package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/database"
	internalhttp "github.com/mixfold/mixfold/internal/http"
	"github.com/mixfold/mixfold/internal/http/handlers"
	"github.com/mixfold/mixfold/internal/manager"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/pipeline/steps"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/service"
	"github.com/mixfold/mixfold/internal/storage"
	"github.com/mixfold/mixfold/internal/uploader"
	"github.com/mixfold/mixfold/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mixfold receiver",
	Long: `Start the mixfold HTTP server and background workers.

The server provides:
- Segment ingest at POST /stream
- Session lifecycle and regeneration endpoints
- Pipeline run history and admin endpoints
- Health check endpoint
- OpenAPI documentation at /openapi.json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (default mixfold.db)")
	serveCmd.Flags().String("data-dir", "", "Base directory for session files")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.Default()

	// Database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories
	sessionRepo := repository.NewSessionRepository(db.DB)
	segmentRepo := repository.NewSegmentRepository(db.DB)
	processedRepo := repository.NewProcessedChannelRepository(db.DB)
	runRepo := repository.NewPipelineRunRepository(db.DB)
	annotationRepo := repository.NewAnnotationRepository(db.DB)
	settingRepo := repository.NewChannelSettingRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB)

	// Local blob store
	blobs, err := storage.New(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	// Clean up work directories left behind by a previous run.
	if removed, err := blobs.CleanupOrphanedTemp(); err != nil {
		logger.Warn("failed to clean orphaned temp directories", "error", err)
	} else if removed > 0 {
		logger.Info("cleaned orphaned temp directories on startup", "removed_count", removed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Object store replication is optional; everything downstream treats a
	// nil store as local-only mode.
	var objects objectstore.Store
	if cfg.ObjectStore.Enabled {
		s3, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("initializing object store: %w", err)
		}
		objects = s3
		logger.Info("object store replication enabled",
			"bucket", cfg.ObjectStore.Bucket, "endpoint", cfg.ObjectStore.Endpoint)
	}
	keys := objectstore.NewKeyLayout(
		cfg.ObjectStore.SegmentsPrefix, cfg.ObjectStore.HLSPrefix, cfg.ObjectStore.PeaksPrefix)

	var uploads *uploader.Queue
	if objects != nil {
		uploads, err = uploader.New(objects, segmentRepo, cfg.Storage.FailedUploadPath(), cfg.Uploader, logger)
		if err != nil {
			return fmt.Errorf("initializing upload queue: %w", err)
		}
		uploads.Start(ctx)
	}

	// Audio pipeline
	toolbox, err := audio.NewToolbox(cfg.Audio, logger)
	if err != nil {
		return fmt.Errorf("initializing audio toolbox: %w", err)
	}

	deps := &steps.Deps{
		Toolbox:  toolbox,
		Audio:    cfg.Audio,
		Pipeline: cfg.Pipeline,
		Store:    objects,
		Keys:     keys,
		Logger:   logger,
	}
	channelProc := processor.NewChannelProcessor(deps, blobs, runRepo, processedRepo, cfg.Pipeline, logger)
	sessionProc := processor.NewSessionProcessor(sessionRepo, segmentRepo, channelProc, blobs, logger).
		WithRecordings(recordingRepo)

	// Session lifecycle
	sessions := manager.New(sessionRepo, sessionProc, cfg.Sessions, logger)
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("starting session manager: %w", err)
	}

	// Services
	var enqueuer service.Enqueuer
	if uploads != nil {
		enqueuer = uploads
	}
	var retrier service.UploadRetrier
	if uploads != nil {
		retrier = uploads
	}

	ingestService := service.NewIngestService(
		sessionRepo, segmentRepo, recordingRepo, blobs, enqueuer, keys, logger)
	sessionService := service.NewSessionService(
		sessionRepo, processedRepo, sessions, sessionProc, blobs, objects, keys, logger)
	adminService := service.NewAdminService(
		sessionRepo, segmentRepo, runRepo, channelProc, retrier, logger)

	// HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithManager(sessions)
	if uploads != nil {
		healthHandler = healthHandler.WithUploads(uploads)
	}
	healthHandler.Register(server.API())

	handlers.NewStreamHandler(ingestService, cfg.Ingest).Register(server.API())
	handlers.NewSessionHandler(sessionService).Register(server.API())
	handlers.NewAdminHandler(adminService).Register(server.API())
	handlers.NewMetadataHandler(
		sessionRepo, segmentRepo, processedRepo, recordingRepo, annotationRepo, settingRepo,
	).Register(server.API())

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting mixfold server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"version", version.Version,
	)

	serveErr := server.ListenAndServe(ctx)

	// Stop accepting work before draining: the manager finishes the
	// in-flight session, then the upload queue flushes what it can.
	sessions.Stop()
	if uploads != nil {
		uploads.Stop()
	}

	return serveErr
}

// applyServeFlags overrides config values with serve flags the user set
// explicitly. Flags beat env vars and the config file.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.BaseDir, _ = cmd.Flags().GetString("data-dir")
	}
}
