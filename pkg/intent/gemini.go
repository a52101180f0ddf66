package intent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.0-flash"

// GeminiConfig holds the configuration for the Gemini extractor.
type GeminiConfig struct {
	APIKey string // Required
	Model  string // Optional: default gemini-2.0-flash
}

// GeminiExtractor extracts intents with the Gemini API using function
// declarations.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

var _ Extractor = (*GeminiExtractor)(nil)

// NewGeminiExtractor creates an extractor backed by the Gemini API.
func NewGeminiExtractor(ctx context.Context, config GeminiConfig) (*GeminiExtractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = geminiDefaultModel
	}

	return &GeminiExtractor{client: client, model: model}, nil
}

// Extract sends the transcript and intent schemas to Gemini. Forcing an
// intent switches function calling to ANY mode restricted to that schema.
func (e *GeminiExtractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	schemas, err := candidateSchemas(req)
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no active intent schemas")
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		declarations = append(declarations, functionDeclaration(s))
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt(req, schemas)},
			},
		},
		Tools: []*genai.Tool{
			{FunctionDeclarations: declarations},
		},
	}
	if req.ForceIntent != "" {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ForceIntent},
			},
		}
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(userPrompt(req)), config)
	if err != nil {
		return nil, fmt.Errorf("generate content failed: %w", err)
	}

	if calls := resp.FunctionCalls(); len(calls) > 0 {
		call := calls[0]
		result := normalizeArgs(call.Name, call.Args, schemas)
		log.Printf("[Intent-Gemini] Extracted intent=%s valid=%t entities=%d",
			result.Intent, result.Valid, len(result.Entities))
		return result, nil
	}

	log.Printf("[Intent-Gemini] No function call, using conversational fallback")
	return fallbackResult(collectText(resp)), nil
}

// functionDeclaration converts a schema to a Gemini function declaration.
// Required slots are not model-enforced so multi-turn collection can fill
// them incrementally.
func functionDeclaration(s Schema) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(s.Parameters))
	for name, p := range s.Parameters {
		prop := &genai.Schema{
			Type:        genaiType(p.Type),
			Description: p.Description,
		}
		if len(p.Enum) > 0 {
			prop.Enum = p.Enum
		}
		props[name] = prop
	}
	return &genai.FunctionDeclaration{
		Name:        s.Name,
		Description: s.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
		},
	}
}

func genaiType(jsonType string) genai.Type {
	switch jsonType {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
