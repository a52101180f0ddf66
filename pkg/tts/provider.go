package tts

import (
	"context"
)

// AudioFormat describes the format of synthesized audio.
type AudioFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 16000, 24000)
	Channels   int    // Number of audio channels (1 for mono)
	Encoding   string // Audio encoding format (e.g., "pcm_s16le")
}

// VoiceSettings tunes the synthesized voice. Zero values mean provider
// defaults.
type VoiceSettings struct {
	Stability       float64 // 0.0-1.0, higher is more consistent
	SimilarityBoost float64 // 0.0-1.0, higher sticks closer to the reference voice
	Speed           float64 // 0.7-1.2, 1.0 is normal speed
}

// SynthesizeRequest represents a request to synthesize speech.
type SynthesizeRequest struct {
	Text     string         // Text to synthesize
	Voice    string         // Voice ID, empty for the provider default
	Settings *VoiceSettings // Optional per-call voice settings
}

// SynthesizeResponse represents the response from batch speech synthesis.
type SynthesizeResponse struct {
	AudioData   []byte
	AudioFormat AudioFormat
}

// Provider defines the interface that all TTS services must implement.
type Provider interface {
	// Name returns the name of the TTS provider (e.g., "elevenlabs-ws").
	Name() string

	// Synthesize converts text to speech in one call.
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// ValidateConfig returns an error if credentials or required settings
	// are missing.
	ValidateConfig() error
}

// StreamingProvider extends Provider with chunked synthesis. Audio chunks
// arrive on the returned channel as the provider generates them; canceling
// the context stops generation and closes the channel.
type StreamingProvider interface {
	Provider

	StreamSynthesize(ctx context.Context, req *SynthesizeRequest) (<-chan []byte, <-chan error)
}

// Typed errors returned by synthesis operations.

// ErrorCode identifies a class of synthesis failure.
type ErrorCode string

const (
	ErrCodeAuthFailure    ErrorCode = "AUTH_FAILURE"
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeProviderError  ErrorCode = "PROVIDER_ERROR"
)

// Error is a typed synthesis error.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}
