package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gemini-gateway/internal/config"
)

func newTestClient(t *testing.T, baseURL string, mutate ...func(*config.UpstreamConfig)) *Client {
	t.Helper()
	cfg := config.UpstreamConfig{
		APIKey:       "secret",
		BaseURL:      baseURL,
		Model:        "gemini-pro",
		UnaryTimeout: 5 * time.Second,
		Headers:      config.Headers{"X-Extra": "1"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := New(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func sampleRequest() GenerateContentRequest {
	temp := 0.5
	return GenerateContentRequest{
		Contents: []Content{{Role: RoleUser, Parts: []Part{{Text: "hi"}}}},
		GenerationConfig: GenerationConfig{
			Temperature: &temp,
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.UpstreamConfig{BaseURL: "http://x", Model: "m"}, nil, nil)
	require.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "1", r.Header.Get("X-Extra"))

		var body GenerateContentRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) && assert.Len(t, body.Contents, 1) {
			assert.Equal(t, "hi", body.Contents[0].Parts[0].Text)
			assert.Equal(t, 0.5, *body.GenerationConfig.Temperature)
		}

		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]},"finishReason":"STOP","index":0}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).GenerateContent(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "hello", resp.Candidates[0].Text())
	assert.Equal(t, FinishReasonStop, resp.Candidates[0].FinishReason)
}

func TestGenerateContentStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GenerateContent(context.Background(), sampleRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindStatus, terr.Kind)
	assert.Equal(t, http.StatusBadRequest, terr.Status)
	assert.Equal(t, "API key not valid", terr.Message)
	assert.Equal(t, "API key not valid", terr.ClientMessage())
}

func TestGenerateContentStatusErrorUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream exploded")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GenerateContent(context.Background(), sampleRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindStatus, terr.Kind)
	assert.Empty(t, terr.Message)
	assert.Equal(t, "upstream exploded", string(terr.Body))
	assert.Equal(t, GenericConnectivityMessage, terr.ClientMessage())
}

func TestGenerateContentConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	_, err := newTestClient(t, baseURL).GenerateContent(context.Background(), sampleRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnection, terr.Kind)
	assert.Equal(t, GenericConnectivityMessage, terr.ClientMessage())
}

func TestGenerateContentIsBoundedByUnaryTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL, func(c *config.UpstreamConfig) {
		c.UnaryTimeout = 50 * time.Millisecond
	})

	_, err := client.GenerateContent(context.Background(), sampleRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnection, terr.Kind)
	assert.True(t, terr.Timeout())
}

func TestStreamGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n\n")
		_, _ = io.WriteString(w, ": keep-alive\n")
	}))
	defer srv.Close()

	reader, err := newTestClient(t, srv.URL).StreamGenerateContent(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer reader.Close()

	var lines []string
	for {
		line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}

	assert.Equal(t, []string{
		`data: {"candidates":[{"content":{"parts":[{"text":"a"}]}}]}`,
		"",
		": keep-alive",
	}, lines)
}

func TestStreamGenerateContentStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StreamGenerateContent(context.Background(), sampleRequest())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusTooManyRequests, terr.Status)
	assert.Equal(t, "quota exceeded", terr.ClientMessage())
}

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func TestLineReaderCloseIsIdempotent(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: x\n")}
	reader := NewLineReader(body)

	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())
	assert.Equal(t, 1, body.closed)

	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

func TestLineReaderReadFailure(t *testing.T) {
	reader := NewLineReader(failingBody{})

	_, err := reader.Next()

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnection, terr.Kind)
}
