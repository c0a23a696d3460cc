package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/m2mserve/pkg/predictor"
)

const (
	welcomeMessage        = "Welcome to M2M translation"
	malformedRequestMsg   = "Invalid request format or missing required parameters."
	translationFailedMsg  = "Translation failed."
	defaultShutdownPeriod = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// HealthChecker reports whether the translation backend can serve requests.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Translator is the part of the Predictor the HTTP layer needs.
type Translator interface {
	HealthChecker
	GetPredictions(ctx context.Context, records []predictor.Record, sourceLang, targetLang string) ([]predictor.Result, error)
}

// HTTPServer serves the translation API, health and Prometheus metrics.
type HTTPServer struct {
	translator Translator
	logger     *logrus.Logger
	router     *gin.Engine
	server     *http.Server
}

// NewHTTPServer creates an HTTP server bound to addr.
func NewHTTPServer(translator Translator, logger *logrus.Logger, addr string) *HTTPServer {
	if logger == nil {
		logger = logrus.New()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &HTTPServer{
		translator: translator,
		logger:     logger,
	}

	r := gin.New()
	r.Use(requestID())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/", s.handleHome)
	r.POST("/translation", s.handleTranslation)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"addr": s.server.Addr,
	}).Info("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownPeriod)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// handleHome returns the welcome string.
func (s *HTTPServer) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, welcomeMessage)
}

// handleHealth checks the engine and answers 503 when it cannot serve.
func (s *HTTPServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.translator.CheckHealth(ctx); err != nil {
		requestLogEntry(c, s.logger).WithError(err).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleTranslation validates the payload, runs it through the predictor and
// maps failures to 409 (malformed) or 500 (engine).
func (s *HTTPServer) handleTranslation(c *gin.Context) {
	log := requestLogEntry(c, s.logger)

	req, err := parseTranslationRequest(c)
	if err != nil {
		log.WithError(err).Warn("Rejected malformed translation request")
		c.JSON(http.StatusConflict, gin.H{"detail": malformedRequestMsg})
		return
	}

	log = log.WithFields(logrus.Fields{
		"from_lang": req.FromLang,
		"to_lang":   req.ToLang,
		"records":   len(req.Records),
	})

	start := time.Now()
	results, err := s.translator.GetPredictions(c.Request.Context(), req.Records, req.FromLang, req.ToLang)
	if err != nil {
		log.WithError(err).Error("Translation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": translationFailedMsg})
		return
	}

	log.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Translation completed")

	c.JSON(http.StatusOK, translationResponse{Result: results})
}
