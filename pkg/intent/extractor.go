package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// FallbackIntent is returned when the model answers in prose instead of
	// calling a function.
	FallbackIntent = "general_inquiry"

	// fallbackConfidence applies to conversational fallback results.
	fallbackConfidence = 0.8

	// clarificationPrompt is spoken when the model's structured output
	// could not be used.
	clarificationPrompt = "Sorry, I didn't quite catch that. Could you say it another way?"
)

// Request carries one transcript through extraction.
type Request struct {
	Transcript string

	// Context holds recent conversation turns, oldest first, formatted as
	// "caller: ..." / "agent: ...".
	Context []string

	// Schemas are the tenant's intent definitions. Inactive schemas are
	// ignored.
	Schemas []Schema

	// ForceIntent, when set, restricts the model to that single intent.
	// Used while a multi-turn intent is still collecting entities.
	ForceIntent string

	// BusinessContext and Personality come from the tenant's settings and
	// shape the system prompt.
	BusinessContext string
	Personality     string

	// Knowledge holds retrieved knowledge base passages grounding
	// conversational replies.
	Knowledge []string
}

// Result is the outcome of extraction.
//
// Valid structured results carry the matched schema's configured confidence
// threshold as their confidence, since providers give no usable native
// confidence. Invalid results (unparseable or unknown function calls) carry
// zero confidence and a clarification prompt. Conversational fallbacks carry
// the model's prose reply.
type Result struct {
	Intent     string
	Entities   map[string]any
	Valid      bool
	Confidence float64

	// ResponseText is a spoken reply: the model's prose for fallbacks, a
	// clarification prompt for invalid results, empty otherwise.
	ResponseText string

	// Fallback is true when no function was called.
	Fallback bool
}

// Extractor turns a final transcript into a structured intent.
type Extractor interface {
	Extract(ctx context.Context, req *Request) (*Result, error)
}

// candidateSchemas resolves which schemas the model may choose from.
func candidateSchemas(req *Request) ([]Schema, error) {
	active := ActiveByPriority(req.Schemas)
	if req.ForceIntent == "" {
		return active, nil
	}
	forced := FindSchema(active, req.ForceIntent)
	if forced == nil {
		return nil, fmt.Errorf("forced intent %q is not an active schema", req.ForceIntent)
	}
	return []Schema{*forced}, nil
}

// normalizeCall converts a model function call into a Result. Arguments that
// do not parse as JSON, or a call naming an unknown intent, produce an
// invalid result rather than an error.
func normalizeCall(name string, argsJSON string, schemas []Schema) *Result {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return invalidResult()
		}
	}
	return normalizeArgs(name, args, schemas)
}

func normalizeArgs(name string, args map[string]any, schemas []Schema) *Result {
	schema := FindSchema(schemas, name)
	if schema == nil {
		return invalidResult()
	}

	entities := make(map[string]any, len(args))
	for key, value := range args {
		if value == nil {
			continue
		}
		if _, declared := schema.Parameters[key]; !declared {
			continue
		}
		entities[key] = value
	}

	return &Result{
		Intent:     name,
		Entities:   entities,
		Valid:      true,
		Confidence: schema.ConfidenceThreshold,
	}
}

func invalidResult() *Result {
	return &Result{
		Entities:     map[string]any{},
		Valid:        false,
		Confidence:   0,
		ResponseText: clarificationPrompt,
	}
}

func fallbackResult(text string) *Result {
	return &Result{
		Intent:       FallbackIntent,
		Entities:     map[string]any{},
		Valid:        true,
		Confidence:   fallbackConfidence,
		ResponseText: strings.TrimSpace(text),
		Fallback:     true,
	}
}

// systemPrompt builds the instruction block from the tenant's business
// context, personality, retrieved knowledge, and the available intents.
func systemPrompt(req *Request, schemas []Schema) string {
	var b strings.Builder
	b.WriteString("You are an intent extraction engine for a phone-based voice agent. ")
	b.WriteString("Analyze the caller's latest utterance and extract their intent by calling the matching function with all entities you can identify. ")
	b.WriteString("If no intent matches, reply conversationally in one or two short spoken sentences instead of calling a function.\n")
	if req.BusinessContext != "" {
		b.WriteString("\nBusiness context: ")
		b.WriteString(req.BusinessContext)
		b.WriteByte('\n')
	}
	if req.Personality != "" {
		b.WriteString("\nSpeaking style: ")
		b.WriteString(req.Personality)
		b.WriteByte('\n')
	}
	if len(req.Knowledge) > 0 {
		b.WriteString("\nRelevant knowledge:\n")
		for _, passage := range req.Knowledge {
			b.WriteString("- ")
			b.WriteString(passage)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nAvailable intents:\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}

// userPrompt renders the conversation context and latest transcript.
func userPrompt(req *Request) string {
	if len(req.Context) == 0 {
		return req.Transcript
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, turn := range req.Context {
		b.WriteString(turn)
		b.WriteByte('\n')
	}
	b.WriteString("\nCaller's latest utterance: ")
	b.WriteString(req.Transcript)
	return b.String()
}
