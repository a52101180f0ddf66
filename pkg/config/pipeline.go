// Package config defines the per-tenant voice pipeline configuration.
//
// The configuration is stored as a JSON document per tenant, decoded strictly
// at session start, and immutable for the duration of a call. Unknown or
// malformed fields fail the decode up front rather than surfacing mid-call.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PipelineConfig is the per-tenant voice pipeline configuration. Loaded once
// at call setup and never mutated afterwards.
type PipelineConfig struct {
	ASR      ASRConfig      `json:"asr"`
	TTS      TTSConfig      `json:"tts"`
	VAD      VADConfig      `json:"vad"`
	LLM      LLMConfig      `json:"llm"`
	Fallback FallbackConfig `json:"fallback"`
}

// ASRConfig configures the speech recognition stream.
type ASRConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Language       string `json:"language"`
	InterimResults bool   `json:"interim_results"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Provider        string  `json:"provider"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`

	// StreamLatency trades synthesis quality for faster first audio (0-4).
	StreamLatency int `json:"stream_latency"`
}

// VADConfig configures voice activity detection.
type VADConfig struct {
	Enabled           bool    `json:"enabled"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
}

// LLMConfig configures the intent extraction model.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// FallbackConfig controls when a call escalates to a human.
type FallbackConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxInvalidAttempts  int     `json:"max_invalid_attempts"`
	RAGThreshold        float64 `json:"rag_threshold"`
	EscalationAction    string  `json:"escalation_action"`
}

// Default returns the configuration applied when a tenant has none stored.
func Default() *PipelineConfig {
	return &PipelineConfig{
		ASR: ASRConfig{
			Provider:       "elevenlabs",
			Model:          "scribe_v1",
			Language:       "en",
			InterimResults: true,
		},
		TTS: TTSConfig{
			Provider:        "elevenlabs",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           1.0,
		},
		VAD: VADConfig{
			Enabled:           true,
			Threshold:         0.02,
			SilenceDurationMs: 600,
			PrefixPaddingMs:   300,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
		},
		Fallback: FallbackConfig{
			ConfidenceThreshold: 0.55,
			MaxInvalidAttempts:  3,
			RAGThreshold:        0.3,
			EscalationAction:    "transfer_human",
		},
	}
}

// Parse decodes a tenant's stored configuration document. Fields absent from
// the document keep their defaults; unknown fields are rejected.
func Parse(data []byte) (*PipelineConfig, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid pipeline config: trailing data")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Called by Parse and again before a session
// starts in case the config was built in code.
func (c *PipelineConfig) Validate() error {
	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		return fmt.Errorf("vad.threshold must be in [0,1], got %v", c.VAD.Threshold)
	}
	if c.VAD.SilenceDurationMs <= 0 {
		return fmt.Errorf("vad.silence_duration_ms must be positive, got %d", c.VAD.SilenceDurationMs)
	}
	if c.VAD.PrefixPaddingMs < 0 {
		return fmt.Errorf("vad.prefix_padding_ms must not be negative, got %d", c.VAD.PrefixPaddingMs)
	}
	if c.TTS.Stability < 0 || c.TTS.Stability > 1 {
		return fmt.Errorf("tts.stability must be in [0,1], got %v", c.TTS.Stability)
	}
	if c.TTS.SimilarityBoost < 0 || c.TTS.SimilarityBoost > 1 {
		return fmt.Errorf("tts.similarity_boost must be in [0,1], got %v", c.TTS.SimilarityBoost)
	}
	if c.TTS.StreamLatency < 0 || c.TTS.StreamLatency > 4 {
		return fmt.Errorf("tts.stream_latency must be in [0,4], got %d", c.TTS.StreamLatency)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0,2], got %v", c.LLM.Temperature)
	}
	if c.Fallback.ConfidenceThreshold < 0 || c.Fallback.ConfidenceThreshold > 1 {
		return fmt.Errorf("fallback.confidence_threshold must be in [0,1], got %v", c.Fallback.ConfidenceThreshold)
	}
	if c.Fallback.MaxInvalidAttempts <= 0 {
		return fmt.Errorf("fallback.max_invalid_attempts must be positive, got %d", c.Fallback.MaxInvalidAttempts)
	}
	if c.Fallback.RAGThreshold < 0 || c.Fallback.RAGThreshold > 1 {
		return fmt.Errorf("fallback.rag_threshold must be in [0,1], got %v", c.Fallback.RAGThreshold)
	}
	return nil
}
