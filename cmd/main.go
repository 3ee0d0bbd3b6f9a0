package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lingtin/lingtin/server/adapters/audio"
	"github.com/lingtin/lingtin/server/adapters/llm"
	"github.com/lingtin/lingtin/server/adapters/memory"
	"github.com/lingtin/lingtin/server/adapters/mongo"
	"github.com/lingtin/lingtin/server/adapters/postgres"
	"github.com/lingtin/lingtin/server/adapters/stt"
	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
	"github.com/lingtin/lingtin/server/internal/api"
	"github.com/lingtin/lingtin/server/internal/auth"
	"github.com/lingtin/lingtin/server/internal/config"
	"github.com/lingtin/lingtin/server/internal/inflight"
	"github.com/lingtin/lingtin/server/internal/metrics"
	"github.com/lingtin/lingtin/server/internal/recovery"
	"github.com/lingtin/lingtin/server/internal/websocket"
	"github.com/lingtin/lingtin/server/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize adapters
	recordings, vocabulary, closeStorage := newStorage(ctx, cfg, logger)
	defer closeStorage()

	speechToText := newSpeechToText(cfg, logger)
	annotator := newAnnotator(ctx, cfg, logger, m)
	fetcher := audio.NewHTTPFetcher(cfg.FetcherConfig(), logger)
	transcoder := audio.NewFFmpegTranscoder(cfg.Transcode.FFmpegPath, cfg.Transcode.TempDir, logger)

	// Initialize usecase services
	transcriber := usecase.NewTranscriptionService(fetcher, transcoder, speechToText, m, logger)
	processor := usecase.NewProcessingService(recordings, vocabulary, transcriber, annotator, inflight.NewSet(), m, logger)

	// Live status feed
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	processor.SetStatusPublisher(hub)

	// Background recovery of interrupted runs
	sweeper := recovery.NewSweeper(recordings, cfg.RecoveryConfig(), m, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Processor:     processor,
		Hub:           hub,
		Authenticator: auth.NewAuthenticator(cfg.Auth.JWTSecret, logger),
		Metrics:       m,
		Gatherer:      registry,
		Logger:        logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.StorageDriver()),
		zap.String("speech", cfg.Speech.Provider),
		zap.String("llm", cfg.LLM.Provider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapConfig := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// newStorage connects the configured recording store. Without one the server
// runs in mock mode on the in-memory repository.
func newStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.RecordingRepository, repositories.VocabularyRepository, func()) {
	switch cfg.StorageDriver() {
	case config.StoragePostgres:
		repo, err := postgres.NewRecordingRepository(ctx, cfg.PostgresConfig(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		return repo, repo, repo.Close

	case config.StorageMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoConfig(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(closeCtx)
		}
		return client.Recordings(), client.Dishes(), closeClient

	default:
		logger.Warn("No database configured, running in mock mode with in-memory storage")
		repo := memory.NewRecordingRepository(memory.DemoDishNames)
		return repo, repo, func() {}
	}
}

// newSpeechToText returns nil when no credentials are configured, which makes
// every recording use the deterministic mock transcript.
func newSpeechToText(cfg *config.Config, logger *zap.Logger) repositories.SpeechToText {
	switch cfg.Speech.Provider {
	case config.SpeechMock:
		logger.Info("Using mock speech recognition after real download and transcode")
		return stt.NewMockSpeechToText(logger)

	case config.SpeechGoogle:
		client, err := stt.NewGoogleSpeechToText(cfg.GoogleConfig(), logger)
		if err != nil {
			logger.Warn("Google speech unavailable, using mock transcripts", zap.Error(err))
			return nil
		}
		return client

	default:
		client, err := stt.NewXunfeiSpeechToText(cfg.XunfeiConfig(), logger)
		if err != nil {
			if errors.Is(err, domain.ErrCredentialsMissing) {
				logger.Warn("Xunfei credentials not configured, using mock transcripts")
				return nil
			}
			logger.Fatal("Invalid Xunfei configuration", zap.Error(err))
		}
		return client
	}
}

func newAnnotator(ctx context.Context, cfg *config.Config, logger *zap.Logger, observer llm.FallbackObserver) repositories.Annotator {
	switch cfg.LLM.Provider {
	case config.LLMMock:
		return llm.NewMockAnnotator(logger, observer)

	case config.LLMGemini:
		annotator, err := llm.NewGeminiAnnotator(ctx, cfg.GeminiConfig(), logger, observer)
		if err != nil {
			logger.Warn("Gemini annotator unavailable, using mock annotations", zap.Error(err))
			return llm.NewMockAnnotator(logger, observer)
		}
		return annotator

	default:
		annotator, err := llm.NewOpenAIAnnotator(cfg.OpenAIConfig(), logger, observer)
		if err != nil {
			if !errors.Is(err, domain.ErrCredentialsMissing) {
				logger.Fatal("Invalid LLM configuration", zap.Error(err))
			}
			logger.Warn("LLM credentials not configured, using mock annotations")
			return llm.NewMockAnnotator(logger, observer)
		}
		return annotator
	}
}
