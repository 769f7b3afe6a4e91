package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"gemini-gateway/internal/provider/gemini"
	"gemini-gateway/internal/translator"
)

// DoneSentinel is the payload of the terminal event.
const DoneSentinel = "[DONE]"

// Coarse error classes carried by error events.
const (
	ErrorTypeUpstream   = "upstream_error"
	ErrorTypeConnection = "connection_error"
	ErrorTypeInternal   = "internal_error"
)

const internalErrorMessage = "internal error while streaming the response"

// Kind identifies what an Event carries.
type Kind int

const (
	KindChunk Kind = iota + 1
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one unit written to a streaming client.
type Event struct {
	Kind  Kind
	Chunk *translator.ChatCompletionChunk
	Error *translator.ErrorResponse
}

// Done is the terminal event.
var Done = Event{Kind: KindDone}

// Data returns the SSE data payload for the event.
func (e Event) Data() ([]byte, error) {
	switch e.Kind {
	case KindDone:
		return []byte(DoneSentinel), nil
	case KindChunk:
		if e.Chunk == nil {
			return nil, errors.New("chunk event without chunk")
		}
		return json.Marshal(e.Chunk)
	case KindError:
		if e.Error == nil {
			return nil, errors.New("error event without error")
		}
		return json.Marshal(e.Error)
	default:
		return nil, fmt.Errorf("unknown stream event kind %d", e.Kind)
	}
}

// ErrorEvent converts a failure into an in-band error event. Transport
// failures keep the upstream message when one was reported.
func ErrorEvent(err error) Event {
	detail := translator.ErrorDetail{
		Message: internalErrorMessage,
		Type:    ErrorTypeInternal,
	}

	var terr *gemini.TransportError
	if errors.As(err, &terr) {
		detail.Message = terr.ClientMessage()
		switch terr.Kind {
		case gemini.KindStatus:
			detail.Type = ErrorTypeUpstream
			detail.Code = terr.Status
		default:
			detail.Type = ErrorTypeConnection
		}
	}

	return Event{Kind: KindError, Error: &translator.ErrorResponse{Error: detail}}
}

// MalformedEventError reports an upstream line that could not be parsed. It
// is logged and skipped, never surfaced to the client.
type MalformedEventError struct {
	Payload string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed upstream event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }
