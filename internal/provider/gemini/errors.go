package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GenericConnectivityMessage is surfaced when the upstream gave us nothing
// more specific to report.
const GenericConnectivityMessage = "failed to connect to the Gemini API"

const maxErrorBodyBytes = 64 * 1024

// ErrorKind separates failures that never reached the upstream from failures
// the upstream reported.
type ErrorKind int

const (
	KindConnection ErrorKind = iota + 1
	KindStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// TransportError is returned by every Client call that fails.
type TransportError struct {
	Kind ErrorKind
	// Status is the upstream HTTP status for KindStatus errors.
	Status int
	// Body holds the (truncated) upstream error body for KindStatus errors.
	Body []byte
	// Message is the upstream error message when the body could be parsed.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("gemini error status %d: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("gemini error status %d", e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("gemini connection failed: %v", e.Err)
		}
		return "gemini connection failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClientMessage is the text shown to API callers: the upstream message when
// available, else a generic connectivity message.
func (e *TransportError) ClientMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return GenericConnectivityMessage
}

// Timeout reports whether the failure was a deadline being exceeded.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

func connectionError(err error) *TransportError {
	return &TransportError{Kind: KindConnection, Err: err}
}

func parseAPIError(resp *http.Response) *TransportError {
	terr := &TransportError{Kind: KindStatus, Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		terr.Err = fmt.Errorf("read error body: %w", err)
		return terr
	}
	terr.Body = body
	terr.Message = extractErrorMessage(body)
	return terr
}

func extractErrorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return strings.TrimSpace(apiErr.Error.Message)
	}
	return ""
}
