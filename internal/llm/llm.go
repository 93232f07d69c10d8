// Package llm is the generative model boundary: a provider-neutral request
// shape, the Gemini implementation, and JSON reply extraction.
package llm

import (
	"context"
	"errors"

	"shopops/internal/types"
)

// ErrNoCandidates is returned when the provider produced nothing usable.
var ErrNoCandidates = errors.New("model returned no candidates")

// FunctionDeclaration is a callable tool offered to the model.
type FunctionDeclaration struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Request is one model call.
type Request struct {
	Model  string
	System string
	Tools  []FunctionDeclaration
	Text   string
	Inline *types.InlineData

	// Call and CallResult replay a previous function call and its result as
	// a function-response turn.
	Call       *FunctionCall
	CallResult map[string]any
}

// Response is the model's answer: either text or a function call.
type Response struct {
	Text string
	Call *FunctionCall
}

// Model generates content.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
