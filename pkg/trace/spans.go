package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across call spans.
const (
	AttrCallID      = "call.id"
	AttrTenantID    = "tenant.id"
	AttrASRProvider = "asr.provider"
	AttrTTSProvider = "tts.provider"
	AttrTTSVoice    = "tts.voice"
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
	AttrIntent      = "intent.name"
)

// StartCallSpan creates the root span for one call session.
func StartCallSpan(ctx context.Context, callID, tenantID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call.session",
		trace.WithAttributes(
			attribute.String(AttrCallID, callID),
			attribute.String(AttrTenantID, tenantID),
		),
	)
}

// StartTurnSpan creates a span covering one conversation turn, from final
// transcript to the end of the agent's response.
func StartTurnSpan(ctx context.Context, callID string, turn int) (context.Context, trace.Span) {
	return StartSpan(ctx, "call.turn",
		trace.WithAttributes(
			attribute.String(AttrCallID, callID),
			attribute.Int("turn.number", turn),
		),
	)
}

// InstrumentASRStream creates a span for an ASR streaming session.
func InstrumentASRStream(ctx context.Context, provider string) (context.Context, trace.Span) {
	return StartSpan(ctx, "asr.stream",
		trace.WithAttributes(
			attribute.String(AttrASRProvider, provider),
		),
	)
}

// InstrumentIntentExtraction creates a span for one extraction round-trip.
func InstrumentIntentExtraction(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "intent.extract",
		trace.WithAttributes(
			attribute.String(AttrLLMProvider, provider),
			attribute.String(AttrLLMModel, model),
		),
	)
}

// InstrumentSynthesis creates a span for one TTS synthesis stream.
func InstrumentSynthesis(ctx context.Context, provider, voice string, textLen int) (context.Context, trace.Span) {
	return StartSpan(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.String(AttrTTSProvider, provider),
			attribute.String(AttrTTSVoice, voice),
			attribute.Int("text.length", textLen),
		),
	)
}

// RecordError marks the span failed and records err. Nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
