package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"gemini-gateway/internal/config"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "gemini-gateway/0.1"
	apiKeyHeader    = "x-goog-api-key"

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 2 * 1024 * 1024
)

// Client talks to the Gemini generateContent endpoints.
type Client struct {
	apiKey       string
	model        string
	headers      map[string]string
	unaryTimeout time.Duration
	client       *http.Client
	logger       *zap.Logger

	generateURL string
	streamURL   string
}

// New creates a client from an explicit upstream configuration. A nil
// httpClient gets a transport tuned for long-lived streaming connections.
func New(cfg config.UpstreamConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	modelPath := baseURL + "/models/" + url.PathEscape(cfg.Model)

	return &Client{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		headers:      cfg.Headers,
		unaryTimeout: cfg.UnaryTimeout,
		client:       httpClient,
		logger:       logger,
		generateURL:  modelPath + ":generateContent",
		streamURL:    modelPath + ":streamGenerateContent?alt=sse",
	}, nil
}

// NewHTTPClient returns an http.Client without an overall timeout; unary
// calls are bounded per request and streams live as long as their context.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// Model returns the upstream model every request is sent to.
func (c *Client) Model() string {
	return c.model
}

// GenerateContent performs a unary call.
func (c *Client) GenerateContent(ctx context.Context, req GenerateContentRequest) (*GenerateContentResponse, error) {
	if c.unaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
		defer cancel()
	}

	httpResp, err := c.do(ctx, c.generateURL, req, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp GenerateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, connectionError(fmt.Errorf("decode gemini response: %w", err))
	}
	return &resp, nil
}

// StreamGenerateContent starts a streaming call and returns a reader over the
// raw SSE lines. The caller must Close the reader.
func (c *Client) StreamGenerateContent(ctx context.Context, req GenerateContentRequest) (*LineReader, error) {
	httpResp, err := c.do(ctx, c.streamURL, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return NewLineReader(httpResp.Body), nil
}

func (c *Client) do(ctx context.Context, endpoint string, payload any, accept string) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, endpoint, payload, accept)
	if err != nil {
		return nil, connectionError(err)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("gemini request failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, connectionError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		terr := parseAPIError(httpResp)
		c.logger.Warn("gemini returned error status",
			zap.String("model", c.model),
			zap.Int("status", terr.Status),
			zap.String("message", terr.Message),
		)
		return nil, terr
	}

	c.logger.Debug("gemini request accepted",
		zap.String("model", c.model),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return httpResp, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload any, accept string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(apiKeyHeader, c.apiKey)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// LineReader yields the raw lines of a streamed upstream body one at a time.
type LineReader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	closed  bool
}

// NewLineReader wraps body. Lines up to 2 MiB are supported.
func NewLineReader(body io.ReadCloser) *LineReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)
	return &LineReader{scanner: scanner, body: body}
}

// Next returns the next line without its terminator. It returns io.EOF when
// the body ends cleanly and a *TransportError when reading fails.
func (r *LineReader) Next() (string, error) {
	if r.closed {
		return "", io.EOF
	}
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", connectionError(fmt.Errorf("read gemini stream: %w", err))
	}
	return "", io.EOF
}

// Close releases the upstream connection. It is safe to call more than once.
func (r *LineReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.body.Close()
}
