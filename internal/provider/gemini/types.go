package gemini

// Upstream roles. Gemini only knows these two.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Finish reasons reported by the upstream. The list is open ended; unknown
// values are passed through lowercased.
const (
	FinishReasonStop       = "STOP"
	FinishReasonMaxTokens  = "MAX_TOKENS"
	FinishReasonSafety     = "SAFETY"
	FinishReasonRecitation = "RECITATION"
	FinishReasonOther      = "OTHER"
)

// Part is a single piece of turn content. Only text is used by the gateway.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversational turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerationConfig carries sampling options.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GenerateContentRequest is the body sent to generateContent and
// streamGenerateContent.
type GenerateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

// SafetyRating is reported per candidate.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// Candidate is one generated alternative. Content may be missing entirely,
// for example when the candidate was blocked.
type Candidate struct {
	Content       *Content       `json:"content,omitempty"`
	FinishReason  string         `json:"finishReason,omitempty"`
	Index         *int           `json:"index,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// Text returns the text of the first part, or "" when there is none.
func (c Candidate) Text() string {
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	return c.Content.Parts[0].Text
}

// HasParts reports whether the candidate carries any content parts.
func (c Candidate) HasParts() bool {
	return c.Content != nil && len(c.Content.Parts) > 0
}

// IndexOrZero returns the candidate index, defaulting to 0.
func (c Candidate) IndexOrZero() int {
	if c.Index == nil {
		return 0
	}
	return *c.Index
}

// PromptFeedback is returned when the prompt itself was assessed.
type PromptFeedback struct {
	BlockReason   string         `json:"blockReason,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// GenerateContentResponse is both the unary response body and the payload of
// each streamed event.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
