package translator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gemini-gateway/internal/provider/gemini"
)

// DefaultTemperature is sent upstream when the client did not set one.
const DefaultTemperature = 1.0

const (
	finishReasonStop    = "stop"
	blockedContentTempl = "[Content blocked due to: %s]"
)

// ToUpstreamRequest converts a client request into a Gemini request.
//
// Every role other than "user" becomes "model", so system and assistant
// messages collapse into the model side of the conversation. Message order is
// kept as is. max_tokens maps to generationConfig.maxOutputTokens.
func ToUpstreamRequest(req ChatCompletionRequest) (gemini.GenerateContentRequest, error) {
	if len(req.Messages) == 0 {
		return gemini.GenerateContentRequest{}, &ValidationError{Field: "messages", Err: ErrEmptyMessages}
	}

	contents := make([]gemini.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		contents = append(contents, gemini.Content{
			Role:  UpstreamRole(msg.Role),
			Parts: []gemini.Part{{Text: msg.Content}},
		})
	}

	temperature := req.TemperatureOrDefault()
	cfg := gemini.GenerationConfig{Temperature: &temperature}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens := *req.MaxTokens
		cfg.MaxOutputTokens = &maxTokens
	}

	return gemini.GenerateContentRequest{
		Contents:         contents,
		GenerationConfig: cfg,
	}, nil
}

// UpstreamRole maps a client role onto the two upstream roles.
func UpstreamRole(role string) string {
	if role == RoleUser {
		return gemini.RoleUser
	}
	return gemini.RoleModel
}

// ToClientCompletion converts a complete upstream response. Only the first
// candidate is surfaced; the result always has exactly one choice.
func ToClientCompletion(resp gemini.GenerateContentResponse, model string) ChatCompletionResponse {
	return buildCompletion(resp, model, NewCompletionID(), time.Now().Unix())
}

func buildCompletion(resp gemini.GenerateContentResponse, model, id string, created int64) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      id,
		Object:  ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: []ChatChoice{firstChoice(resp.Candidates)},
		Usage:   Usage{},
	}
}

func firstChoice(candidates []gemini.Candidate) ChatChoice {
	if len(candidates) == 0 {
		return ChatChoice{
			Index:        0,
			Message:      ChatMessage{Role: RoleAssistant, Content: ""},
			FinishReason: finishReasonStop,
		}
	}

	candidate := candidates[0]
	finish := FinishReason(candidate.FinishReason)
	if finish == "" {
		finish = finishReasonStop
	}

	content := candidate.Text()
	if !candidate.HasParts() {
		content = ""
		if finish != finishReasonStop {
			content = fmt.Sprintf(blockedContentTempl, finish)
		}
	}

	return ChatChoice{
		Index:        candidate.IndexOrZero(),
		Message:      ChatMessage{Role: RoleAssistant, Content: content},
		FinishReason: finish,
	}
}

// FinishReason lowercases an upstream finish reason. Empty stays empty.
func FinishReason(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NewCompletionID returns an opaque, unique completion identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// NewChunk builds a streamed chunk with a single choice.
func NewChunk(id string, created int64, model string, index int, delta ChunkDelta, finish string) ChatCompletionChunk {
	choice := ChunkChoice{Index: index, Delta: delta}
	if finish != "" {
		choice.FinishReason = &finish
	}
	return ChatCompletionChunk{
		ID:      id,
		Object:  ObjectChatCompletionChunk,
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{choice},
	}
}
