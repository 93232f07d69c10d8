package llm

import (
	"context"
	"fmt"
	"strings"

	"shopops/internal/logging"

	"google.golang.org/genai"
)

// GeminiClient calls Gemini models through the genai SDK. It is safe for
// concurrent use.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Generate sends req and returns either the text answer or the first
// function call.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	timer := logging.StartTimer(logging.CategoryAPI, "gemini "+req.Model)
	defer timer.Stop()

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, buildContents(req), buildConfig(req))
	if err != nil {
		logging.APIError("Gemini %s failed: %v", req.Model, err)
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return parseResponse(resp)
}

func buildContents(req Request) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(req.Text)}
	if req.Inline != nil && len(req.Inline.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Inline.Data, req.Inline.MimeType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	if req.Call != nil {
		call := &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   req.Call.ID,
			Name: req.Call.Name,
			Args: req.Call.Args,
		}}
		result := req.CallResult
		if result == nil {
			result = map[string]any{}
		}
		contents = append(contents,
			genai.NewContentFromParts([]*genai.Part{call}, genai.RoleModel),
			genai.NewContentFromFunctionResponse(req.Call.Name, result, genai.RoleUser),
		)
	}
	return contents
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) == 0 {
		// Gemini rejects a JSON response type combined with function calling.
		cfg.ResponseMIMEType = "application/json"
		return cfg
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, t := range req.Tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			decl.ParametersJsonSchema = t.Parameters
		}
		decls = append(decls, decl)
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return cfg
}

func parseResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		fc := calls[0]
		if len(calls) > 1 {
			logging.APIDebug("Model requested %d calls, using only %s", len(calls), fc.Name)
		}
		return &Response{Call: &FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}}, nil
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, ErrNoCandidates
	}
	return &Response{Text: text}, nil
}
