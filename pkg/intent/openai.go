package intent

import (
	"context"
	"fmt"
	"log"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

const openaiDefaultModel = "gpt-4o-mini"

// OpenAIConfig holds the configuration for the OpenAI extractor.
type OpenAIConfig struct {
	APIKey      string  // Required
	Model       string  // Optional: default gpt-4o-mini
	BaseURL     string  // Optional: override for compatible endpoints
	Temperature float64 // Optional: default 0.1
}

// OpenAIExtractor extracts intents with OpenAI chat completions and
// function calling.
type OpenAIExtractor struct {
	client      openai.Client
	model       string
	temperature float64
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor creates an extractor backed by the OpenAI API.
func NewOpenAIExtractor(config OpenAIConfig) (*OpenAIExtractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	model := config.Model
	if model == "" {
		model = openaiDefaultModel
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	return &OpenAIExtractor{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
	}, nil
}

// Extract sends the transcript and intent schemas to the model. A function
// call becomes a structured result; a prose answer becomes a conversational
// fallback. Forcing an intent restricts the tool list to that schema and
// requires a call.
func (e *OpenAIExtractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	schemas, err := candidateSchemas(req)
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no active intent schemas")
	}

	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  shared.FunctionParameters(s.FunctionParameters()),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req, schemas)),
			openai.UserMessage(userPrompt(req)),
		},
		Model:       shared.ChatModel(e.model),
		Tools:       tools,
		Temperature: openai.Float(e.temperature),
	}
	if req.ForceIntent != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("required"),
		}
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	message := resp.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0]
		result := normalizeCall(call.Function.Name, call.Function.Arguments, schemas)
		log.Printf("[Intent-OpenAI] Extracted intent=%s valid=%t entities=%d",
			result.Intent, result.Valid, len(result.Entities))
		return result, nil
	}

	log.Printf("[Intent-OpenAI] No function call, using conversational fallback")
	return fallbackResult(message.Content), nil
}
