// ElevenLabs WebSocket TTS Provider
//
// Implements StreamingProvider using the ElevenLabs WebSocket API for
// low-latency text-to-speech synthesis. Outputs 16kHz mono PCM audio.
//
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech/v-1-text-to-speech-voice-id-stream-input

package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSEndpoint     = "wss://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultModel   = "eleven_turbo_v2_5"
	elevenLabsOutputFormat   = "pcm_16000" // 16kHz mono PCM
	elevenLabsSampleRate     = 16000
	elevenLabsConnectTimeout = 10 * time.Second
)

// ElevenLabsConfig holds the configuration for the ElevenLabs WebSocket
// provider. Voice settings come from the tenant's pipeline configuration.
type ElevenLabsConfig struct {
	APIKey          string  // Required: ElevenLabs API key
	VoiceID         string  // Required: Voice ID to use
	Model           string  // Optional: Model ID (default: eleven_turbo_v2_5)
	Stability       float64 // Optional: 0.0-1.0 (default: 0.5)
	SimilarityBoost float64 // Optional: 0.0-1.0 (default: 0.75)
	Speed           float64 // Optional: 0.7-1.2 (default: 1.0)

	// StreamLatency maps to optimize_streaming_latency (0-4). Higher values
	// trade quality for faster first audio.
	StreamLatency int
}

// ElevenLabsProvider implements StreamingProvider over WebSocket.
type ElevenLabsProvider struct {
	apiKey          string
	voiceID         string
	model           string
	stability       float64
	similarityBoost float64
	speed           float64
	streamLatency   int
}

// NewElevenLabsProvider creates an ElevenLabs WebSocket TTS provider.
func NewElevenLabsProvider(config ElevenLabsConfig) (*ElevenLabsProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required")
	}
	if config.VoiceID == "" {
		return nil, fmt.Errorf("ElevenLabs Voice ID is required")
	}

	model := config.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}
	stability := config.Stability
	if stability == 0 {
		stability = 0.5
	}
	similarity := config.SimilarityBoost
	if similarity == 0 {
		similarity = 0.75
	}
	speed := config.Speed
	if speed == 0 {
		speed = 1.0
	}

	return &ElevenLabsProvider{
		apiKey:          config.APIKey,
		voiceID:         config.VoiceID,
		model:           model,
		stability:       stability,
		similarityBoost: similarity,
		speed:           speed,
		streamLatency:   config.StreamLatency,
	}, nil
}

// Name returns the provider name.
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs-ws"
}

// Synthesize converts text to speech in batch mode by collecting the stream.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}

	audioChan, errChan := p.StreamSynthesize(ctx, req)

	var audioData []byte
	for {
		select {
		case chunk, ok := <-audioChan:
			if !ok {
				select {
				case err := <-errChan:
					if err != nil {
						return nil, err
					}
				default:
				}
				return &SynthesizeResponse{
					AudioData: audioData,
					AudioFormat: AudioFormat{
						SampleRate: elevenLabsSampleRate,
						Channels:   1,
						Encoding:   "pcm_s16le",
					},
				}, nil
			}
			audioData = append(audioData, chunk...)

		case err := <-errChan:
			if err != nil {
				return nil, err
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// StreamSynthesize streams audio data as it is generated.
func (p *ElevenLabsProvider) StreamSynthesize(ctx context.Context, req *SynthesizeRequest) (<-chan []byte, <-chan error) {
	audioChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(audioChan)
		defer close(errChan)

		if err := p.doStreamSynthesize(ctx, req, audioChan); err != nil {
			errChan <- err
		}
	}()

	return audioChan, errChan
}

func (p *ElevenLabsProvider) doStreamSynthesize(ctx context.Context, req *SynthesizeRequest, audioChan chan<- []byte) error {
	voiceID := req.Voice
	if voiceID == "" {
		voiceID = p.voiceID
	}

	params := url.Values{}
	params.Set("model_id", p.model)
	params.Set("output_format", elevenLabsOutputFormat)
	if p.streamLatency > 0 {
		params.Set("optimize_streaming_latency", strconv.Itoa(p.streamLatency))
	}

	wsURL := fmt.Sprintf("%s/%s/stream-input?%s", elevenLabsWSEndpoint, voiceID, params.Encode())

	dialer := websocket.Dialer{
		HandshakeTimeout: elevenLabsConnectTimeout,
	}
	headers := http.Header{}
	headers.Set("xi-api-key", p.apiKey)

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return &Error{Code: ErrCodeNetworkError, Message: "failed to connect to ElevenLabs WebSocket", Cause: err}
	}
	defer conn.Close()

	log.Printf("[ElevenLabs-TTS] WebSocket connected, voice=%s", voiceID)

	var closed atomic.Bool
	var wg sync.WaitGroup

	// The read loop must run before any text is sent so early audio chunks
	// are not dropped.
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, conn, audioChan, &closed)
	}()

	settings := p.voiceSettings(req.Settings)

	// BOS: a single space initializes the stream.
	initMsg := elevenlabsInitMessage{
		Text:          " ",
		APIKey:        p.apiKey,
		VoiceSettings: settings,
	}
	if err := conn.WriteJSON(initMsg); err != nil {
		closed.Store(true)
		return &Error{Code: ErrCodeNetworkError, Message: "failed to send init message", Cause: err}
	}

	textMsg := elevenlabsTextMessage{
		Text:                 req.Text + " ", // Trailing space per API recommendation
		TryTriggerGeneration: true,
	}
	if err := conn.WriteJSON(textMsg); err != nil {
		closed.Store(true)
		return &Error{Code: ErrCodeNetworkError, Message: "failed to send text message", Cause: err}
	}

	log.Printf("[ElevenLabs-TTS] Sent text: %d chars", len(req.Text))

	// EOS with flush.
	eosMsg := elevenlabsTextMessage{
		Text:  "",
		Flush: true,
	}
	if err := conn.WriteJSON(eosMsg); err != nil {
		closed.Store(true)
		return &Error{Code: ErrCodeNetworkError, Message: "failed to send EOS message", Cause: err}
	}

	wg.Wait()
	return nil
}

func (p *ElevenLabsProvider) voiceSettings(override *VoiceSettings) *elevenlabsVoiceSettings {
	settings := &elevenlabsVoiceSettings{
		Stability:       p.stability,
		SimilarityBoost: p.similarityBoost,
		Speed:           p.speed,
	}
	if override != nil {
		if override.Stability > 0 {
			settings.Stability = override.Stability
		}
		if override.SimilarityBoost > 0 {
			settings.SimilarityBoost = override.SimilarityBoost
		}
		if override.Speed > 0 {
			settings.Speed = override.Speed
		}
	}
	return settings
}

func (p *ElevenLabsProvider) readLoop(ctx context.Context, conn *websocket.Conn, audioChan chan<- []byte, closed *atomic.Bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if !closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ElevenLabs-TTS] WebSocket read error: %v", err)
			}
			return
		}

		var resp elevenlabsResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			log.Printf("[ElevenLabs-TTS] Failed to parse response: %v", err)
			continue
		}

		if resp.IsFinal {
			return
		}

		if resp.Audio != "" {
			audioData, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				log.Printf("[ElevenLabs-TTS] Failed to decode audio: %v", err)
				continue
			}

			select {
			case audioChan <- audioData:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ValidateConfig validates the provider configuration.
func (p *ElevenLabsProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("ElevenLabs API key is not set")
	}
	if p.voiceID == "" {
		return fmt.Errorf("ElevenLabs Voice ID is not set")
	}
	return nil
}

// WebSocket message types

type elevenlabsInitMessage struct {
	Text          string                   `json:"text"`
	APIKey        string                   `json:"xi-api-key,omitempty"`
	VoiceSettings *elevenlabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenlabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenlabsTextMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	Flush                bool   `json:"flush,omitempty"`
}

type elevenlabsResponse struct {
	Audio   string `json:"audio,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
}

var _ StreamingProvider = (*ElevenLabsProvider)(nil)
