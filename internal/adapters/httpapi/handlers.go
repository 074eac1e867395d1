package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"go.uber.org/zap"
)

// ScanRequest is either a raw message or its already extracted fields
type ScanRequest = filter.ScanInput

// CheckIdentityRequest names the domain or sender to authenticate
type CheckIdentityRequest struct {
	Domain    string   `json:"domain" validate:"required_without=Sender,max=253"`
	Sender    string   `json:"sender" validate:"max=320"`
	Selectors []string `json:"selectors" validate:"max=20,dive,required,max=63"`
}

// CheckReputationRequest carries the URLs and sender domain to classify
type CheckReputationRequest struct {
	URLs         []string `json:"urls" validate:"max=200,dive,required,max=2048"`
	SenderDomain string   `json:"senderDomain" validate:"max=253"`
}

// AnalyzeIntentRequest carries the text to rate
type AnalyzeIntentRequest struct {
	Subject string `json:"subject" validate:"required_without=Body,max=2000"`
	Body    string `json:"body"`
	Sender  string `json:"sender" validate:"max=320"`
}

func (s *Server) scan(c echo.Context) error {
	var req ScanRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}

	msg, err := req.Message()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.scanner.ScanMessageWithLayers(c.Request().Context(), msg, req.Layers.Apply(s.defaults))
	if err != nil {
		s.logger.Error("Scan failed", zap.String("message_id", msg.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "scan failed")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) checkIdentity(c echo.Context) error {
	var req CheckIdentityRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}
	result := s.identity.CheckWithSelectors(c.Request().Context(), req.Domain, req.Sender, req.Selectors)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) checkReputation(c echo.Context) error {
	var req CheckReputationRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}
	result := s.reputation.Check(c.Request().Context(), req.URLs, req.SenderDomain)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) analyzeIntent(c echo.Context) error {
	var req AnalyzeIntentRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}
	result := s.intent.Analyze(c.Request().Context(), req.Subject, req.Body, req.Sender)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	return c.Validate(req)
}
