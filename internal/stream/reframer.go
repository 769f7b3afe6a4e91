// Package stream turns the upstream server-sent event stream into the
// client's chunked chat-completion stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"gemini-gateway/internal/metrics"
	"gemini-gateway/internal/provider/gemini"
	"gemini-gateway/internal/translator"
)

const (
	dataPrefix     = "data:"
	maxLoggedBytes = 200
)

// LineSource yields raw upstream lines. Next returns io.EOF at the end of a
// clean stream.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// Opener acquires the upstream line source. It is called once per Run.
type Opener func(ctx context.Context) (LineSource, error)

// EmitFunc delivers one event to the client. An error means the client can
// no longer be written to.
type EmitFunc func(Event) error

// State is the reframer lifecycle position.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateClosed
	StateFailed
	StateCancelled
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reframer converts one upstream stream. It is not reusable: the id and the
// created timestamp are fixed when it is constructed and stamped on every
// chunk it produces.
type Reframer struct {
	id      string
	created int64
	model   string
	logger  *zap.Logger
	metrics *metrics.Metrics

	state    State
	roleSent bool
	chunks   int
}

// New prepares a reframer for a single streaming response.
func New(model string, logger *zap.Logger, m *metrics.Metrics) *Reframer {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := translator.NewCompletionID()
	return &Reframer{
		id:      id,
		created: time.Now().Unix(),
		model:   model,
		logger:  logger.With(zap.String("completion_id", id)),
		metrics: m,
		state:   StateInit,
	}
}

// ID returns the completion id shared by all chunks.
func (r *Reframer) ID() string { return r.id }

// Created returns the unix timestamp shared by all chunks.
func (r *Reframer) Created() int64 { return r.created }

// State returns the current lifecycle state.
func (r *Reframer) State() State { return r.state }

// Run drives the stream to completion. Whatever happens, the last event
// passed to emit is Done and the line source, once opened, is closed. Run
// returns the state the stream ended in before termination.
func (r *Reframer) Run(ctx context.Context, open Opener, emit EmitFunc) (exit State) {
	if r.state != StateInit {
		r.logger.Error("reframer reused", zap.Stringer("state", r.state))
		return r.state
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stream reframer panicked", zap.Any("panic", p), zap.Stack("stack"))
			_ = r.send(emit, ErrorEvent(fmt.Errorf("panic: %v", p)))
			exit = StateFailed
		}
		if err := r.send(emit, Done); err != nil {
			r.logger.Debug("terminal event not delivered", zap.Error(err))
		}
		r.state = StateTerminated
		r.logger.Info("stream finished",
			zap.Stringer("exit", exit),
			zap.Int("chunks", r.chunks),
		)
	}()

	exit = r.pump(ctx, open, emit)
	r.state = exit
	return exit
}

func (r *Reframer) pump(ctx context.Context, open Opener, emit EmitFunc) State {
	src, err := open(ctx)
	if err != nil {
		r.logger.Warn("upstream stream could not be opened", zap.Error(err))
		_ = r.send(emit, ErrorEvent(err))
		return StateFailed
	}
	defer func() {
		if err := src.Close(); err != nil {
			r.logger.Debug("close upstream stream", zap.Error(err))
		}
	}()

	r.state = StateStreaming
	for {
		if ctx.Err() != nil {
			return StateCancelled
		}

		line, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return StateClosed
			}
			if ctx.Err() != nil {
				return StateCancelled
			}
			r.logger.Warn("upstream stream failed", zap.Error(err), zap.Int("chunks", r.chunks))
			_ = r.send(emit, ErrorEvent(err))
			return StateFailed
		}

		ev, ok, err := r.Translate(line)
		if err != nil {
			var malformed *MalformedEventError
			if errors.As(err, &malformed) {
				r.metrics.MalformedEvent()
				r.logger.Warn("skipping malformed upstream event",
					zap.Error(malformed.Err),
					zap.String("data", malformed.Payload),
				)
			}
			continue
		}
		if !ok {
			continue
		}

		if err := r.send(emit, ev); err != nil {
			r.logger.Info("client stopped reading", zap.Error(err))
			return StateCancelled
		}
		r.chunks++
	}
}

// Translate converts one raw upstream line. ok is false when the line
// produces no client event. A parse failure returns *MalformedEventError.
func (r *Reframer) Translate(line string) (ev Event, ok bool, err error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))

	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return Event{}, false, &MalformedEventError{Payload: truncate(payload, maxLoggedBytes), Err: err}
	}
	if len(resp.Candidates) == 0 {
		return Event{}, false, nil
	}

	candidate := resp.Candidates[0]
	text := candidate.Text()
	finish := translator.FinishReason(candidate.FinishReason)

	var delta translator.ChunkDelta
	switch {
	case text != "":
		delta.Content = text
		if !r.roleSent {
			delta.Role = translator.RoleAssistant
			r.roleSent = true
		}
	case finish != "":
	default:
		return Event{}, false, nil
	}

	chunk := translator.NewChunk(r.id, r.created, r.model, candidate.IndexOrZero(), delta, finish)
	return Event{Kind: KindChunk, Chunk: &chunk}, true, nil
}

func (r *Reframer) send(emit EmitFunc, ev Event) error {
	if err := emit(ev); err != nil {
		return err
	}
	r.metrics.StreamEvent(ev.Kind.String())
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
