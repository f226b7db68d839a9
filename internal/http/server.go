// Package http provides the HTTP API for corpusd.
package http

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/docstore"
	"github.com/fyrsmithlabs/corpusd/internal/orchestrator"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Server exposes the retrieval pipeline over HTTP.
type Server struct {
	echo     *echo.Echo
	pipeline *orchestrator.Pipeline
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(pipeline *orchestrator.Pipeline, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8420}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
			Limit: fmt.Sprintf("%dB", cfg.MaxBodyBytes),
		}))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)

	v1 := s.echo.Group("/v1")
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.POST("/search", s.handleSearch)
	v1.POST("/answer", s.handleAnswer)
}

// IngestRequest is the request body for POST /v1/documents. Text
// content goes in content; binary formats like PDF go base64-encoded
// in content_base64.
type IngestRequest struct {
	DocumentID    string            `json:"document_id"`
	Title         string            `json:"title"`
	MimeType      string            `json:"mime_type"`
	Content       string            `json:"content"`
	ContentBase64 string            `json:"content_base64"`
	Metadata      map[string]string `json:"metadata"`
}

// SearchRequest is the request body for POST /v1/search and
// POST /v1/answer. Mode selects "similarity" (default) or "hybrid"
// ranking; answers always retrieve with hybrid ranking.
type SearchRequest struct {
	Query      string  `json:"query"`
	Limit      int     `json:"limit"`
	Threshold  float32 `json:"threshold"`
	DocumentID string  `json:"document_id"`
	Mode       string  `json:"mode"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	data := []byte(req.Content)
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "content_base64 is not valid base64")
		}
		data = decoded
	}

	result, err := s.pipeline.Ingest(c.Request().Context(), orchestrator.IngestRequest{
		DocumentID: req.DocumentID,
		Title:      req.Title,
		MimeType:   req.MimeType,
		Data:       data,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.pipeline.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.pipeline.DeleteDocument(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	search := orchestrator.SearchRequest{
		Query:      req.Query,
		Limit:      req.Limit,
		Threshold:  req.Threshold,
		DocumentID: req.DocumentID,
	}

	var (
		results []vectorstore.SearchResult
		err     error
	)
	switch req.Mode {
	case "", "similarity":
		results, err = s.pipeline.Search(c.Request().Context(), search)
	case "hybrid":
		results, err = s.pipeline.HybridSearch(c.Request().Context(), search)
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("mode %q is not one of similarity, hybrid", req.Mode))
	}
	if err != nil {
		return s.mapError(err)
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.pipeline.Answer(c.Request().Context(), orchestrator.SearchRequest{
		Query:      req.Query,
		Limit:      req.Limit,
		Threshold:  req.Threshold,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError translates pipeline failures to HTTP statuses. Upstream
// collaborator failures surface as 502 so clients can distinguish
// them from corpusd's own errors.
func (s *Server) mapError(err error) error {
	switch orchestrator.KindOf(err) {
	case orchestrator.KindInvalidInput:
		if errors.Is(err, docstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case orchestrator.KindEmbeddingFailure, orchestrator.KindStoreFailure,
		orchestrator.KindGenerationFailure:
		s.logger.Error("upstream failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream dependency failed")
	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
