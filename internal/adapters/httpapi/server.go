// Package httpapi exposes scans over a JSON HTTP API for web mail clients, chat
// integrations and browser extensions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"go.uber.org/zap"
)

const serviceName = "llm-phish-scanner"

// IdentityChecker runs the sender authentication checks on their own
type IdentityChecker interface {
	CheckWithSelectors(ctx context.Context, domain, sender string, selectors []string) core.IdentityResult
}

// ReputationChecker classifies URLs and a sender domain on their own
type ReputationChecker interface {
	Check(ctx context.Context, urls []string, senderDomain string) core.ReputationResult
}

// IntentAnalyzer rates the social-engineering tactics of a text on its own
type IntentAnalyzer interface {
	Analyze(ctx context.Context, subject, body, sender string) core.IntentResult
}

// LLMHealthReporter reports the model backend state behind the intent layer
type LLMHealthReporter interface {
	LLMHealth(ctx context.Context) core.LLMHealth
}

// Server is the echo based HTTP frontend
type Server struct {
	echo       *echo.Echo
	scanner    ports.MessageScanner
	identity   IdentityChecker
	reputation ReputationChecker
	intent     IntentAnalyzer
	logger     *zap.Logger
	address    string
	defaults   core.LayerConfig
}

// NewServer creates the HTTP frontend and registers its routes
func NewServer(
	scanner ports.MessageScanner,
	identity IdentityChecker,
	reputation ReputationChecker,
	intent IntentAnalyzer,
	defaults core.LayerConfig,
	cfg config.HTTPConfig,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		echo:       e,
		scanner:    scanner,
		identity:   identity,
		reputation: reputation,
		intent:     intent,
		logger:     logger,
		address:    cfg.ListenAddress,
		defaults:   defaults,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "2M"
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:     true,
		LogURI:        true,
		LogStatus:     true,
		LogLatency:    true,
		LogRequestID:  true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: s.logRequest,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))

	e.GET("/health", s.healthCheck)
	api := e.Group("/api/v1")
	api.POST("/scan", s.scan)
	api.POST("/check-identity", s.checkIdentity)
	api.POST("/check-reputation", s.checkReputation)
	api.POST("/analyze-intent", s.analyzeIntent)

	return s
}

// Handler returns the underlying HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts serving in the background
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API", zap.String("address", s.address))
	go func() {
		if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP API")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP API: %w", err)
	}
	return nil
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	fields := []zap.Field{
		zap.String("method", v.Method),
		zap.String("uri", v.URI),
		zap.Int("status", v.Status),
		zap.Duration("latency", v.Latency),
		zap.String("request_id", v.RequestID),
	}
	if v.Error != nil {
		s.logger.Warn("HTTP request failed", append(fields, zap.Error(v.Error))...)
		return nil
	}
	s.logger.Info("HTTP request", fields...)
	return nil
}

type healthResponse struct {
	Status  string                    `json:"status"`
	Service string                    `json:"service"`
	Layers  map[core.LayerName]string `json:"layers"`
	LLM     *core.LLMHealth           `json:"llm,omitempty"`
}

// healthCheck reports per-layer readiness. An intent layer without a reachable
// model marks the service degraded; scans still complete with a zero intent score.
func (s *Server) healthCheck(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Service: serviceName,
		Layers: map[core.LayerName]string{
			core.LayerIdentity:   layerState(s.defaults.Identity),
			core.LayerReputation: layerState(s.defaults.Reputation),
			core.LayerIntent:     layerState(s.defaults.Intent),
		},
	}

	if reporter, ok := s.intent.(LLMHealthReporter); ok {
		health := reporter.LLMHealth(c.Request().Context())
		resp.LLM = &health
		if s.defaults.Intent && !health.Available() {
			resp.Layers[core.LayerIntent] = "degraded"
			resp.Status = "degraded"
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func layerState(enabled bool) string {
	if enabled {
		return "ready"
	}
	return "disabled"
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
