// Package asr provides a unified interface for streaming speech recognition
// providers. A provider opens one stateful stream per call; audio frames must
// be sent in arrival order and results come back as interim (partial) and
// committed (final) transcripts.
package asr

import (
	"context"
	"time"
)

// RecognitionResult is one transcription result from the provider.
type RecognitionResult struct {
	// Text is the recognized text.
	Text string

	// IsFinal indicates a committed (authoritative) result. Partial results
	// may repeat or overwrite each other.
	IsFinal bool

	// Confidence score (0.0-1.0) if available, otherwise -1.
	Confidence float32

	// Timestamp when the result was received.
	Timestamp time.Time
}

// AudioConfig specifies the inbound audio format.
type AudioConfig struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels (1 for mono).
	Channels int

	// BitsPerSample (16 for PCM16).
	BitsPerSample int
}

// RecognitionConfig carries the tenant's ASR settings.
type RecognitionConfig struct {
	// Model is the provider-specific model id.
	Model string

	// Language code (e.g., "en", "auto" for auto-detection).
	Language string

	// InterimResults enables partial transcripts during streaming.
	InterimResults bool
}

// StreamingRecognizer is one live recognition stream. Implementations must
// preserve the order in which SendAudio was called; providers are stateful.
type StreamingRecognizer interface {
	// SendAudio forwards one audio frame to the provider.
	SendAudio(ctx context.Context, audioData []byte) error

	// Commit finalizes the current utterance, forcing a final result for
	// whatever audio has been sent since the last commit.
	Commit(ctx context.Context) error

	// Results returns the result stream. The channel closes when the
	// provider connection is lost or the recognizer is closed; callers
	// treat an unexpected close as a recoverable disconnect.
	Results() <-chan *RecognitionResult

	// Close stops recognition and releases resources.
	Close() error
}

// Provider creates recognition streams.
type Provider interface {
	// Name returns the provider name (e.g., "elevenlabs").
	Name() string

	// StreamingRecognize opens a new recognition stream for one call.
	StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Error is a typed ASR failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeAuthenticationFailed
	ErrCodeQuotaExceeded
	ErrCodeNetworkError
	ErrCodeProviderError
)
