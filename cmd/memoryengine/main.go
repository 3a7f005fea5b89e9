// Package main is the memory-engine composition root: it wires every
// component built under internal/ into a single long-running process,
// following the teacher's cli/root.go cobra+viper+echo shape (config →
// services → HTTP server → background worker → graceful shutdown).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/alerting"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/authn"
	"eve.evalgo.org/memoryengine/internal/config"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/httpapi"
	"eve.evalgo.org/memoryengine/internal/ingest"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/retention"
	"eve.evalgo.org/memoryengine/internal/sessionstore"
	"eve.evalgo.org/memoryengine/internal/settingsstore"
	"eve.evalgo.org/memoryengine/internal/transcripts"
	"eve.evalgo.org/memoryengine/internal/watcher"
	"eve.evalgo.org/memoryengine/internal/worker"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "memoryengine",
	Short: "a persistent memory and context service for long-running coding sessions",
	Long: `memoryengine

A background service that remembers decisions, failures, and project state
across coding sessions: it ingests session summaries and transcripts,
maintains a single master context document, surfaces proactive nudges and
anomalies, and answers load/save/search/correct requests from an editor
integration.

Configuration is read from environment variables (see internal/config),
optionally overlaid with a YAML file via --config.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default none; environment variables are primary)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil {
			fmt.Println("using config file:", viper.ConfigFileUsed())
			for _, key := range viper.AllKeys() {
				os.Setenv(keyToEnv(key), viper.GetString(key))
			}
		}
	}
}

func keyToEnv(key string) string {
	out := make([]byte, 0, len(key))
	for _, r := range key {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	degrade := degradation.New(logger)

	backend, err := archive.NewBoltBackend(filepath.Join(cfg.DataDir, "archive.db"), schema.AllCollections)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize archive backend")
	}
	archiveStore := archive.New(logger, backend, degrade)

	ctxStore, err := contextstore.New(logger, degrade, filepath.Dir(cfg.MasterLocalPath), cfg.KBRoot, cfg.Standalone)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize context store")
	}

	transcriptStore, err := transcripts.New(cfg.TranscriptsDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize transcript store")
	}

	advisoryStore, err := advisory.New(cfg.DataDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize advisory store")
	}

	sessions, err := sessionstore.New(cfg.SessionsDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize session store")
	}

	router := modelclient.NewRouter(cfg.FastModel, cfg.SmartModel)
	modelClient := modelclient.New(logger, degrade, router, cfg.ModelProviderBaseURL, cfg.ModelAPIKey)

	defaultSettings := settingsstore.Settings{
		FastModel:          cfg.FastModel,
		SmartModel:         cfg.SmartModel,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		LearningMode:       cfg.LearningMode,
	}
	settings, err := settingsstore.New(cfg.SettingsPath, defaultSettings)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize settings store")
	}
	if persisted, err := settings.Read(); err == nil {
		router.FastModel = persisted.FastModel
		router.SmartModel = persisted.SmartModel
		router.Escalation[persisted.FastModel] = persisted.SmartModel
	}

	queue := buildQueue(cfg, logger)

	var uploader retention.ObjectStoreUploader
	if cfg.BackupS3Bucket != "" {
		s3, err := retention.NewS3Uploader(context.Background(), cfg.BackupS3Endpoint, cfg.BackupS3Region, os.Getenv("BACKUP_S3_ACCESS_KEY"), os.Getenv("BACKUP_S3_SECRET_KEY"), cfg.BackupS3Bucket)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize backup uploader, remote backups disabled")
		} else {
			uploader = s3
		}
	}
	retentionSvc := retention.New(logger, archiveStore, &retention.BackupSource{Context: ctxStore, Advisory: advisoryStore}, uploader, cfg.BackupsDir, 10)

	w := worker.New(worker.Deps{
		Log:          logger,
		Degrade:      degrade,
		Model:        modelClient,
		Archive:      archiveStore,
		Context:      ctxStore,
		Transcripts:  transcriptStore,
		Advisory:     advisoryStore,
		Sessions:     sessions,
		LearningMode: cfg.LearningMode,
		Alerter:      alerting.New("", cfg.AlertChannelID, cfg.AlertChannelToken),
		IdleHooks:    retentionSvc,
	}, queue, cfg.RateLimitPerMinute)

	ingestSvc := ingest.New(logger, archiveStore, ctxStore, transcriptStore, advisoryStore, sessions, modelClient, w, degrade, cfg.LearningMode)

	ingestGate := authn.New(cfg.IngestSharedSecret, cfg.IngestJWTSecret)

	handlers := &httpapi.Handlers{
		Log:        logger,
		Ingest:     ingestSvc,
		Worker:     w,
		Degrade:    degrade,
		Advisory:   advisoryStore,
		Retention:  retentionSvc,
		Settings:   settings,
		Router:     router,
		Model:      modelClient,
		IngestGate: ingestGate,
	}

	e := echo.New()
	e.HideBanner = true
	httpapi.Register(e, handlers)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go w.Run(workerCtx)

	fileWatcher := watcher.New(logger, cfg.WorkingTreeRoot, cfg.WatchDirs, time.Duration(cfg.DebounceSeconds)*time.Second,
		&infraSessionEmitter{ingest: ingestSvc}, alerting.ContextFreeAdapter{WebhookAlerter: alerting.New("", cfg.AlertChannelID, cfg.AlertChannelToken)})
	watcherStop := make(chan struct{})
	go func() {
		if err := fileWatcher.Run(watcherStop); err != nil {
			logger.WithError(err).Warn("file watcher stopped")
		}
	}()

	dropZone := watcher.NewDropZoneWatcher(logger, cfg.DropZoneDir, &checkpointEmitter{ingest: ingestSvc})
	dropZoneStop := make(chan struct{})
	go func() {
		if err := dropZone.Run(dropZoneStop); err != nil {
			logger.WithError(err).Warn("drop-zone watcher stopped")
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithField("addr", addr).Info("memory-engine listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(watcherStop)
	close(dropZoneStop)
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func buildQueue(cfg *config.Config, logger *logrus.Logger) worker.Queue {
	if cfg.RedisURL == "" {
		return worker.NewMemoryQueue(1000)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("invalid redis url, falling back to in-memory queue")
		return worker.NewMemoryQueue(1000)
	}
	client := redis.NewClient(opts)
	return worker.NewRedisQueue(client, cfg.QueuePrefix+"sessions")
}

// infraSessionEmitter adapts watcher.SessionEmitter onto the ingest surface's
// external webhook adapter, so infra-change commits become ordinary ingested
// sessions flowing through the same queue as everything else.
type infraSessionEmitter struct {
	ingest *ingest.Service
}

func (e *infraSessionEmitter) EmitInfraSession(summary, significance string, tags []string) error {
	_, err := e.ingest.Ingest(context.Background(), ingest.IngestPayload{
		Summary:      summary,
		Significance: significance,
		Tags:         tags,
		Source:       "infra-watcher",
	})
	return err
}

// checkpointEmitter adapts watcher.CheckpointEmitter onto the ingest
// surface's checkpoint operation for drop-zone transcripts.
type checkpointEmitter struct {
	ingest *ingest.Service
}

func (e *checkpointEmitter) EmitCheckpoint(transcriptPath string) error {
	sessionID, err := ingest.NewSessionID(time.Now())
	if err != nil {
		return err
	}
	_, err = e.ingest.Checkpoint(context.Background(), ingest.CheckpointRequest{
		SessionID:      sessionID,
		Note:           "transcript dropped at " + transcriptPath,
		TranscriptPath: transcriptPath,
	})
	return err
}
