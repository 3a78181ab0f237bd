package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"EconLedger/internal/event"
	"EconLedger/internal/ingestion"
	"EconLedger/internal/observability"
	"EconLedger/internal/query"
)

const defaultPageLimit = 100

// SubmitFunc hands a typed event to the ingestion shell. It returns an error
// when the shell is shutting down or the event is rejected before queueing.
type SubmitFunc func(evt event.Event) error

// HTTPServer serves the read API over projection tables plus the admin
// surface (manual event injection, integrity verification).
type HTTPServer struct {
	query      *query.QueryService
	health     *observability.HealthChecker
	submit     SubmitFunc
	logger     zerolog.Logger
	httpServer *http.Server
}

func NewHTTPServer(qs *query.QueryService, health *observability.HealthChecker, submit SubmitFunc) *HTTPServer {
	return &HTTPServer{
		query:  qs,
		health: health,
		submit: submit,
		logger: observability.NewLogger("http"),
	}
}

// Start runs the HTTP listener until the context is cancelled.
func (s *HTTPServer) Start(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	router.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := router.Group("/v1")
	{
		v1.GET("/pool", s.getPool)
		v1.GET("/policy", s.getPolicy)
		v1.GET("/epochs", s.getEpochHistory)
		v1.GET("/ubi/claims/:participant", s.getUbiClaims)
		v1.GET("/impact/assets/:id", s.getAssetImpact)
		v1.GET("/impact/consumers/:id", s.getConsumerImpact)
		v1.GET("/balances/:participant", s.getBalance)
		v1.GET("/journal/:participant", s.getJournalHistory)

		admin := v1.Group("/admin")
		{
			admin.GET("/integrity", s.verifyIntegrity)
			admin.POST("/events/:type", s.injectEvent)
		}
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// --- read handlers ---

func (s *HTTPServer) getPool(c *gin.Context) {
	resp, err := s.query.GetPool(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getPolicy(c *gin.Context) {
	resp, err := s.query.GetPolicy(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getEpochHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	afterEpoch := parseCursor(c.Query("after_epoch"))

	history, err := s.query.GetEpochHistory(c.Request.Context(), limit, afterEpoch)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"epochs": history})
}

func (s *HTTPServer) getUbiClaims(c *gin.Context) {
	participant, err := uuid.Parse(c.Param("participant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	limit := parseLimit(c.Query("limit"))
	afterSeq := parseCursor(c.Query("after_sequence"))

	claims, err := s.query.GetUbiClaims(c.Request.Context(), participant, limit, afterSeq)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

func (s *HTTPServer) getAssetImpact(c *gin.Context) {
	asset, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	resp, err := s.query.GetAssetImpact(c.Request.Context(), asset)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getConsumerImpact(c *gin.Context) {
	consumer, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consumer id"})
		return
	}

	resp, err := s.query.GetConsumerImpact(c.Request.Context(), consumer)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getBalance(c *gin.Context) {
	participant, err := uuid.Parse(c.Param("participant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	resp, err := s.query.GetBalance(c.Request.Context(), participant)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getJournalHistory(c *gin.Context) {
	participant, err := uuid.Parse(c.Param("participant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	limit := parseLimit(c.Query("limit"))
	afterSeq := parseCursor(c.Query("after_sequence"))

	entries, err := s.query.GetJournalHistory(c.Request.Context(), participant, limit, afterSeq)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// --- admin handlers ---

func (s *HTTPServer) verifyIntegrity(c *gin.Context) {
	report, err := s.query.VerifyIntegrity(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}

	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

// injectEvent accepts a raw JSON payload for the named event type and feeds
// it through the same parser as NATS ingestion.
func (s *HTTPServer) injectEvent(c *gin.Context) {
	eventType := c.Param("type")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	raw := ingestion.RawEvent{
		Subject:   "admin",
		Data:      body,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}

	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.submit(evt); err != nil {
		s.serverError(c, err)
		return
	}

	s.logger.Info().
		Str("event_type", eventType).
		Str("idempotency_key", evt.IdempotencyKey()).
		Msg("admin event injected")

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"idempotency_key": evt.IdempotencyKey(),
	})
}

func (s *HTTPServer) serverError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultPageLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return defaultPageLimit
	}
	return n
}

func parseCursor(raw string) *int64 {
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
