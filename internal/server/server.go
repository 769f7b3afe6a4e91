package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"gemini-gateway/internal/config"
	"gemini-gateway/internal/logging"
	"gemini-gateway/internal/metrics"
	"gemini-gateway/internal/provider/gemini"
	"gemini-gateway/internal/stream"
	"gemini-gateway/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	streamContextKey = "stream"
)

// Upstream is the part of the Gemini client the server depends on.
type Upstream interface {
	Model() string
	GenerateContent(ctx context.Context, req gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error)
	StreamGenerateContent(ctx context.Context, req gemini.GenerateContentRequest) (*gemini.LineReader, error)
}

type Server struct {
	cfg      config.Config
	upstream Upstream
	metrics  *metrics.Metrics
	logger   *zap.Logger
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, upstream Upstream, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if upstream == nil {
		return nil, errors.New("upstream client must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		upstream: upstream,
		metrics:  m,
		logger:   logging.Component(logger, "server"),
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(srv.observeRequests)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError: true,
		LogLatency:  true,
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			srv.logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv.app = e
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.upstream.Model())
	s.logger.Info("starting server", zap.String("addr", s.address), zap.String("model", s.upstream.Model()))

	// No WriteTimeout: streamed responses may run longer than any fixed deadline.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	s.app.POST("/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	c.Set(streamContextKey, req.Stream)

	if err := req.Validate(); err != nil {
		return toHTTPError(err)
	}

	upstreamReq, err := translator.ToUpstreamRequest(req)
	if err != nil {
		return toHTTPError(err)
	}

	model := req.Model
	if model == "" {
		model = s.upstream.Model()
	}

	if req.Stream {
		return s.streamChat(c, model, upstreamReq)
	}

	resp, err := s.upstream.GenerateContent(c.Request().Context(), upstreamReq)
	s.metrics.UpstreamCall(metrics.ModeUnary, upstreamOutcome(err))
	if err != nil {
		return toHTTPError(err)
	}
	if resp == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    stream.ErrorTypeUpstream,
		}
	}

	return c.JSON(http.StatusOK, translator.ToClientCompletion(*resp, model))
}

// streamChat always answers 200 once headers are written; failures after that
// point travel in-band as error events followed by the terminal event.
func (s *Server) streamChat(c echo.Context, model string, upstreamReq gemini.GenerateContentRequest) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.logger.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	done := s.metrics.StreamStarted()
	defer done()

	reframer := stream.New(model, s.logger, s.metrics)

	open := func(ctx context.Context) (stream.LineSource, error) {
		lines, err := s.upstream.StreamGenerateContent(ctx, upstreamReq)
		s.metrics.UpstreamCall(metrics.ModeStreaming, upstreamOutcome(err))
		if err != nil {
			return nil, err
		}
		return lines, nil
	}

	emit := func(ev stream.Event) error {
		if err := writeSSEEvent(writer, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reframer.Run(c.Request().Context(), open, emit)
	return nil
}

func writeSSEEvent(w io.Writer, ev stream.Event) error {
	data, err := ev.Data()
	if err != nil {
		if data, err = stream.ErrorEvent(err).Data(); err != nil {
			return fmt.Errorf("marshal SSE payload: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

func (s *Server) observeRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		streaming, _ := c.Get(streamContextKey).(bool)
		s.metrics.ObserveRequest(c.Path(), streaming, c.Response().Status, time.Since(start))
		return err
	}
}

func upstreamOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	var terr *gemini.TransportError
	if errors.As(err, &terr) && terr.Kind == gemini.KindStatus {
		return metrics.OutcomeStatusError
	}
	return metrics.OutcomeConnectionError
}

func printStartupBanner(port int, model string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("gemini-gateway ready")
	fmt.Printf("Listening on http://%s:%d (upstream model %s)\n", host, port, model)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  POST /chat/completions")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Printf("Example:\n  curl http://%s:%d/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}],\"stream\":true}'\n\n", host, port)
}
