package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/internal/auth"
	"github.com/lingtin/lingtin/server/internal/metrics"
	"github.com/lingtin/lingtin/server/internal/websocket"
	"github.com/lingtin/lingtin/server/usecase"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

// Processor is the pipeline surface exposed over HTTP
type Processor interface {
	Process(ctx context.Context, req usecase.ProcessRequest) (*entities.ProcessingResult, error)
	Status(ctx context.Context, id string) (*entities.Recording, error)
	Pending(ctx context.Context, limit int) ([]*entities.Recording, error)
	Processing(id string) bool
}

var _ Processor = (*usecase.ProcessingService)(nil)

// Dependencies groups everything the routes need
type Dependencies struct {
	Processor     Processor
	Hub           *websocket.Hub
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger

	if deps.Metrics != nil {
		e.Use(metricsMiddleware(deps.Metrics))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "lingtin-server",
		})
	})

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Audio pipeline APIs
	audio := e.Group("/api/audio", deps.Authenticator.Middleware())
	audio.POST("/process", func(c echo.Context) error {
		return processAudio(c, deps.Processor, logger)
	})
	audio.GET("/status/:id", func(c echo.Context) error {
		return getStatus(c, deps.Processor, logger)
	})
	audio.GET("/pending", func(c echo.Context) error {
		return getPending(c, deps.Processor, logger)
	})

	// Live status feed for dashboards
	if deps.Hub != nil {
		e.GET("/ws/status", func(c echo.Context) error {
			subject := ""
			if claims, ok := c.Get(auth.ClaimsContextKey).(*auth.Claims); ok {
				subject = claims.Subject
			}
			return websocket.HandleWebSocket(deps.Hub, c, subject, logger)
		}, deps.Authenticator.Middleware())
	}
}

func processAudio(c echo.Context, processor Processor, logger *zap.Logger) error {
	var req usecase.ProcessRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind process request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: err.Error(),
		})
	}

	result, err := processor.Process(c.Request().Context(), req)
	if err != nil {
		return processError(c, req.RecordingID, err, logger)
	}

	return c.JSON(http.StatusOK, newProcessResponse(result))
}

func processError(c echo.Context, recordingID string, err error, logger *zap.Logger) error {
	var stateErr *domain.AlreadyInStateError
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessing):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "already_processing",
			Message: err.Error(),
		})
	case errors.As(err, &stateErr):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "already_" + string(stateErr.Status),
			Message: err.Error(),
		})
	case domain.IsFatal(err):
		logger.Error("Recording processing failed",
			zap.String("recordingID", recordingID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "processing_failed",
			Message: err.Error(),
		})
	default:
		logger.Error("Unexpected processing error",
			zap.String("recordingID", recordingID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

func getStatus(c echo.Context, processor Processor, logger *zap.Logger) error {
	id := c.Param("id")

	recording, err := processor.Status(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordingNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Recording not found",
			})
		}
		logger.Error("Failed to load recording status",
			zap.String("recordingID", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load recording status",
		})
	}

	return c.JSON(http.StatusOK, StatusResponse{
		VisitID:      recording.ID,
		Status:       displayStatus(recording.Status),
		Processing:   processor.Processing(id),
		ProcessedAt:  recording.ProcessedAt,
		ErrorMessage: recording.ErrorMessage,
		AISummary:    recording.Summary(),
	})
}

func getPending(c echo.Context, processor Processor, logger *zap.Logger) error {
	limit := defaultPendingLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(parsed, maxPendingLimit)
	}

	recordings, err := processor.Pending(c.Request().Context(), limit)
	if err != nil {
		logger.Error("Failed to list pending recordings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list pending recordings",
		})
	}

	response := PendingResponse{Recordings: make([]PendingRecording, 0, len(recordings))}
	for _, r := range recordings {
		response.Recordings = append(response.Recordings, newPendingRecording(r))
	}
	response.Count = len(response.Recordings)
	return c.JSON(http.StatusOK, response)
}

func metricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path,
				strconv.Itoa(c.Response().Status), time.Since(start).Seconds())
			return nil
		}
	}
}
