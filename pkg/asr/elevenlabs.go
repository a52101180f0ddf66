// ElevenLabs Scribe realtime ASR provider.
//
// Streams PCM16 audio over WebSocket and receives partial and committed
// transcripts. Uses the manual commit strategy so the relay can finalize an
// utterance on demand (VAD end-of-speech or an explicit stop control).
// Only 16kHz mono input is supported by the API.

package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenlabsRealtimeWSURL = "wss://api.elevenlabs.io/v1/speech-to-text/realtime"

	elevenlabsDefaultModel       = "scribe_v2_realtime"
	elevenlabsRequiredSampleRate = 16000

	elevenlabsMaxRetryAttempts  = 3
	elevenlabsInitialRetryDelay = 1 * time.Second
	elevenlabsMaxRetryDelay     = 4 * time.Second
	elevenlabsConnectionTimeout = 10 * time.Second
)

// ElevenLabsConfig holds provider-level configuration.
type ElevenLabsConfig struct {
	// APIKey is the ElevenLabs API key (required).
	APIKey string
}

// ElevenLabsProvider implements Provider using the Scribe realtime API.
type ElevenLabsProvider struct {
	apiKey string
	mu     sync.RWMutex
}

var _ Provider = (*ElevenLabsProvider)(nil)

// NewElevenLabsProvider creates a new ElevenLabs realtime ASR provider.
func NewElevenLabsProvider(config ElevenLabsConfig) (*ElevenLabsProvider, error) {
	if config.APIKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "ElevenLabs API key is required",
		}
	}

	return &ElevenLabsProvider{apiKey: config.APIKey}, nil
}

// Name returns the provider name.
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// StreamingRecognize opens a recognition stream for one call.
func (p *ElevenLabsProvider) StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if audioConfig.SampleRate != elevenlabsRequiredSampleRate {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: fmt.Sprintf("ElevenLabs ASR requires 16kHz sample rate, got %dHz", audioConfig.SampleRate),
		}
	}

	if config.Model == "" {
		config.Model = elevenlabsDefaultModel
	}

	recognizer := &elevenlabsStreamingRecognizer{
		apiKey:      p.apiKey,
		audioConfig: audioConfig,
		config:      config,
		resultsChan: make(chan *RecognitionResult, 10),
		sendChan:    make(chan []byte, 100),
		commitChan:  make(chan struct{}, 1),
	}

	if err := recognizer.connect(ctx); err != nil {
		return nil, err
	}

	return recognizer, nil
}

// Close releases provider resources.
func (p *ElevenLabsProvider) Close() error {
	return nil
}

type elevenlabsStreamingRecognizer struct {
	apiKey      string
	audioConfig AudioConfig
	config      RecognitionConfig

	resultsChan chan *RecognitionResult
	sendChan    chan []byte
	commitChan  chan struct{}

	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closed       atomic.Bool
	sessionReady atomic.Bool
	closeOnce    sync.Once
}

// Wire message shapes.
type elevenlabsMessage struct {
	MessageType string           `json:"message_type"`
	Text        string           `json:"text,omitempty"`
	Confidence  *float32         `json:"confidence,omitempty"`
	Error       *elevenlabsError `json:"error,omitempty"`
}

type elevenlabsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type elevenlabsAudioChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit"`
	SampleRate  int    `json:"sample_rate"`
}

// connect establishes the WebSocket connection with retry and backoff.
func (r *elevenlabsStreamingRecognizer) connect(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	var lastErr error
	retryDelay := elevenlabsInitialRetryDelay

	for attempt := 0; attempt < elevenlabsMaxRetryAttempts; attempt++ {
		if err := r.doConnect(); err != nil {
			lastErr = err
			log.Printf("[ElevenLabs-ASR] Connection attempt %d/%d failed: %v", attempt+1, elevenlabsMaxRetryAttempts, err)

			if attempt < elevenlabsMaxRetryAttempts-1 {
				select {
				case <-time.After(retryDelay):
					retryDelay *= 2
					if retryDelay > elevenlabsMaxRetryDelay {
						retryDelay = elevenlabsMaxRetryDelay
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		return nil
	}

	return &Error{
		Code:    ErrCodeNetworkError,
		Message: fmt.Sprintf("failed to connect after %d attempts", elevenlabsMaxRetryAttempts),
		Err:     lastErr,
	}
}

func (r *elevenlabsStreamingRecognizer) doConnect() error {
	params := url.Values{}
	params.Set("model_id", r.config.Model)
	params.Set("commit_strategy", "manual")
	if r.config.Language != "" && r.config.Language != "auto" {
		params.Set("language_code", r.config.Language)
	}

	wsURL := fmt.Sprintf("%s?%s", elevenlabsRealtimeWSURL, params.Encode())

	dialer := websocket.Dialer{
		HandshakeTimeout: elevenlabsConnectionTimeout,
	}
	headers := map[string][]string{
		"xi-api-key": {r.apiKey},
	}

	conn, _, err := dialer.DialContext(r.ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	r.conn = conn
	log.Printf("[ElevenLabs-ASR] WebSocket connected (model: %s)", r.config.Model)

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()

	// Wait for session_started before declaring the stream usable.
	deadline := time.Now().Add(elevenlabsConnectionTimeout)
	for time.Now().Before(deadline) {
		if r.sessionReady.Load() {
			return nil
		}
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	r.Close()
	return fmt.Errorf("session start timeout")
}

func (r *elevenlabsStreamingRecognizer) readLoop() {
	defer r.wg.Done()
	defer r.closeResults()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if !r.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ElevenLabs-ASR] WebSocket read error: %v", err)
			}
			return
		}

		r.handleMessage(message)
	}
}

func (r *elevenlabsStreamingRecognizer) handleMessage(data []byte) {
	var msg elevenlabsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[ElevenLabs-ASR] Failed to parse message: %v", err)
		return
	}

	switch msg.MessageType {
	case "session_started":
		r.sessionReady.Store(true)
		log.Printf("[ElevenLabs-ASR] Session started")

	case "partial_transcript":
		if !r.config.InterimResults {
			return
		}
		r.deliver(&RecognitionResult{
			Text:       msg.Text,
			IsFinal:    false,
			Confidence: confidenceOrUnknown(msg.Confidence),
			Timestamp:  time.Now(),
		})

	case "committed_transcript":
		r.deliver(&RecognitionResult{
			Text:       msg.Text,
			IsFinal:    true,
			Confidence: confidenceOrUnknown(msg.Confidence),
			Timestamp:  time.Now(),
		})

	case "error":
		if msg.Error != nil {
			log.Printf("[ElevenLabs-ASR] Provider error: %s (%s)", msg.Error.Message, msg.Error.Code)
		}

	default:
		// Ignore housekeeping messages.
	}
}

func (r *elevenlabsStreamingRecognizer) deliver(result *RecognitionResult) {
	select {
	case r.resultsChan <- result:
	case <-r.ctx.Done():
	default:
		log.Printf("[ElevenLabs-ASR] Results channel full, dropping result")
	}
}

func (r *elevenlabsStreamingRecognizer) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return

		case audioData, ok := <-r.sendChan:
			if !ok {
				return
			}
			if !r.sessionReady.Load() {
				continue
			}
			r.sendAudioChunk(audioData, false)

		case <-r.commitChan:
			if !r.sessionReady.Load() {
				continue
			}
			// Empty audio with commit=true finalizes the utterance.
			r.sendAudioChunk(nil, true)
		}
	}
}

func (r *elevenlabsStreamingRecognizer) sendAudioChunk(audioData []byte, commit bool) {
	chunk := elevenlabsAudioChunk{
		MessageType: "input_audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(audioData),
		Commit:      commit,
		SampleRate:  r.audioConfig.SampleRate,
	}

	if err := r.conn.WriteJSON(chunk); err != nil {
		if !r.closed.Load() {
			log.Printf("[ElevenLabs-ASR] WebSocket write error: %v", err)
		}
	}
}

// SendAudio forwards one audio frame. Frames are queued in order; a full
// queue returns an error instead of blocking the audio path.
func (r *elevenlabsStreamingRecognizer) SendAudio(ctx context.Context, audioData []byte) error {
	if r.closed.Load() {
		return &Error{Code: ErrCodeNetworkError, Message: "recognizer is closed"}
	}

	select {
	case r.sendChan <- audioData:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return &Error{Code: ErrCodeInvalidAudio, Message: "audio send queue full"}
	}
}

// Commit finalizes the current utterance.
func (r *elevenlabsStreamingRecognizer) Commit(ctx context.Context) error {
	if r.closed.Load() {
		return &Error{Code: ErrCodeNetworkError, Message: "recognizer is closed"}
	}

	select {
	case r.commitChan <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// A commit is already pending; coalesce.
		return nil
	}
}

// Results returns the result stream.
func (r *elevenlabsStreamingRecognizer) Results() <-chan *RecognitionResult {
	return r.resultsChan
}

func (r *elevenlabsStreamingRecognizer) closeResults() {
	r.closeOnce.Do(func() {
		close(r.resultsChan)
	})
}

// Close stops recognition and releases resources.
func (r *elevenlabsStreamingRecognizer) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.cancel()
	if r.conn != nil {
		r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.conn.Close()
	}
	r.wg.Wait()
	r.closeResults()
	return nil
}

func confidenceOrUnknown(c *float32) float32 {
	if c == nil {
		return -1
	}
	return *c
}
