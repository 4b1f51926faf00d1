// Package proxy hosts the HTTP service around the extraction library: batch
// and streaming endpoints, the tool registry surface, Prometheus metrics and
// an optional relay that rewrites upstream chat completion streams.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efortin/toolsift/pkg/operation"
	"github.com/efortin/toolsift/pkg/parser"
	"github.com/efortin/toolsift/pkg/registry"
	"github.com/efortin/toolsift/pkg/stats"
)

// Server hosts the extraction API and, when a target URL is configured,
// relays unmatched paths to the upstream
type Server struct {
	config   *Config
	metrics  *stats.MetricsRecorder
	registry *registry.Registry
	counter  TokenCounter
	engine   *gin.Engine
	target   *url.URL
}

// NewServer creates a new extraction server
func NewServer(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config:  config,
		metrics: stats.NewMetricsRecorder(),
		counter: NewTokenCounter(config.Model),
	}

	if config.ToolsFile != "" {
		reg, err := registry.Load(config.ToolsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool registry: %w", err)
		}
		s.registry = reg
		log.Printf("[REGISTRY] loaded %d tools from %s", len(reg.Names()), config.ToolsFile)
	}

	if config.TargetURL != "" {
		target, err := url.Parse(config.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("invalid target URL: %w", err)
		}
		s.target = target
	}

	s.engine = s.buildEngine()
	return s, nil
}

func (s *Server) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.metricsMiddleware())

	engine.GET("/healthz", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/v1/extract", s.extractHandler)
	engine.POST("/v1/extract/stream", s.extractStreamHandler)
	engine.GET("/v1/stream", s.websocketHandler)

	if s.registry != nil {
		handler := registry.NewHandler(s.registry)
		engine.GET("/v1/tools", handler.ListHandler)
		engine.GET("/v1/tools/:name", handler.DetailHandler)

		ops := operation.NewGinHandler(&registryManager{registry: s.registry, metrics: s.metrics})
		engine.POST("/operations/reload", ops.ReloadHandler)
	}

	if s.target != nil {
		engine.NoRoute(s.relayHandler)
	}

	return engine
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.engine.Run(":" + s.config.Port)
}

// Handler returns the server's HTTP handler for embedding or testing
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Stop releases background resources
func (s *Server) Stop() {
	s.metrics.Stop()
}

// healthHandler handles health check requests
func (s *Server) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// metricsMiddleware records request metrics and activity
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}
		s.metrics.RecordRequest(c.Request.Method, path, c.Writer.Status(),
			time.Since(start), requestSize, int64(c.Writer.Size()))
		s.metrics.UpdateActivity()
	}
}

// extractRequest is the batch extraction request body
type extractRequest struct {
	Text    string          `json:"text" binding:"required"`
	Options *extractOptions `json:"options"`
}

// extractOptions mirrors the parser options for per-request overrides
type extractOptions struct {
	MaxParameterValueLength int  `json:"max_parameter_value_length"`
	MaxToolNameLength       int  `json:"max_tool_name_length"`
	DisableEntityDecoding   bool `json:"disable_entity_decoding"`
	ValidateNames           bool `json:"validate_names"`
}

// parserOptions resolves per-request overrides against the configured limits
func (s *Server) parserOptions(override *extractOptions) parser.Options {
	if override == nil {
		return s.config.ParserOptions()
	}
	return parser.Options{
		MaxParameterValueLength: override.MaxParameterValueLength,
		MaxToolNameLength:       override.MaxToolNameLength,
		DisableEntityDecoding:   override.DisableEntityDecoding,
		ValidateNames:           override.ValidateNames,
	}
}

// extractHandler handles batch extraction requests
func (s *Server) extractHandler(c *gin.Context) {
	requestID := "req_" + uuid.NewString()

	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"id": requestID,
			"error": gin.H{
				"message": fmt.Sprintf("invalid request: %v", err),
				"type":    "bad_request",
			},
		})
		return
	}

	start := time.Now()
	call, err := parser.ParseToolCallWithOptions(req.Text, s.parserOptions(req.Options))
	duration := time.Since(start)

	if err != nil {
		code := parser.ErrorCode(err)
		if code == "" {
			code = "internal_error"
		}
		s.metrics.RecordExtraction(stats.ModeBatch, code, duration)
		log.Printf("[EXTRACT] %s failed: %v", requestID, err)
		c.JSON(statusForCode(code), gin.H{
			"id": requestID,
			"error": gin.H{
				"message": err.Error(),
				"type":    code,
			},
		})
		return
	}

	if s.registry != nil {
		if verr := s.registry.Validate(call); verr != nil {
			s.metrics.RecordExtraction(stats.ModeBatch, "rejected", duration)
			log.Printf("[EXTRACT] %s rejected: %v", requestID, verr)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"id": requestID,
				"error": gin.H{
					"message": verr.Error(),
					"type":    registryErrorType(verr),
				},
			})
			return
		}
	}

	s.metrics.RecordExtraction(stats.ModeBatch, stats.OutcomeOK, duration)
	for pair := call.Parameters.Oldest(); pair != nil; pair = pair.Next() {
		s.metrics.RecordParameterValueSize(len(pair.Value))
	}
	log.Printf("[EXTRACT] %s tool=%s params=%d", requestID, call.Name, call.Parameters.Len())

	c.JSON(http.StatusOK, gin.H{
		"id":   requestID,
		"tool": call,
	})
}

// extractStreamHandler streams the request body through the parser and
// replies with one SSE data line per event
func (s *Server) extractStreamHandler(c *gin.Context) {
	requestID := "req_" + uuid.NewString()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	p := parser.NewStreamParserWithOptions(c.Request.Body, s.parserOptions(nil))
	start := time.Now()
	outcome := stats.OutcomeOK
	events := 0
	for {
		ev, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// source failure, the SSE stream just stops
			log.Printf("[EXTRACT] %s source error: %v", requestID, err)
			s.metrics.RecordExtraction(stats.ModeStream, "io_error", time.Since(start))
			return
		}
		if ev.Type == parser.EventTypeError && outcome == stats.OutcomeOK {
			outcome = ev.Code
		}
		s.metrics.RecordEvent(string(ev.Type))
		events++

		payload, merr := json.Marshal(ev)
		if merr != nil {
			log.Printf("[EXTRACT] %s marshal error: %v", requestID, merr)
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()

	s.metrics.RecordExtraction(stats.ModeStream, outcome, time.Since(start))
	log.Printf("[EXTRACT] %s streamed %d events", requestID, events)
}

// relayHandler forwards unmatched paths to the configured upstream, wrapping
// chat completion responses for tool call rewriting
func (s *Server) relayHandler(c *gin.Context) {
	upstream := httputil.NewSingleHostReverseProxy(s.target)
	upstream.FlushInterval = -1
	upstream.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("[RELAY] ❌ upstream error: %v", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	if c.Request.Method == http.MethodPost && c.Request.URL.Path == "/v1/chat/completions" {
		rw := newRelayWriter(c.Writer, s.parserOptions(nil), s.counter, s.metrics)
		upstream.ServeHTTP(rw, c.Request)
		return
	}
	upstream.ServeHTTP(c.Writer, c.Request)
}

// statusForCode maps the extraction failure taxonomy to HTTP statuses
func statusForCode(code string) int {
	switch code {
	case parser.CodeNoToolFound:
		return http.StatusNotFound
	case parser.CodeUnexpectedEOF, parser.CodeMismatchedEndTag,
		parser.CodeInvalidStructure, parser.CodeValueTooLarge,
		parser.CodeInvalidEncoding:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// registryErrorType maps registry validation failures to error type strings
func registryErrorType(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, registry.ErrMissingParameter):
		return "missing_parameter"
	default:
		return "validation_failed"
	}
}

// registryManager adapts the registry and metrics to the operation manager
type registryManager struct {
	registry *registry.Registry
	metrics  *stats.MetricsRecorder
}

func (m *registryManager) Reload(_ context.Context) error {
	return m.registry.Reload()
}

func (m *registryManager) UpdateActivity() {
	if m.metrics != nil {
		m.metrics.UpdateActivity()
	}
}
