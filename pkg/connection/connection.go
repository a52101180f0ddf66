// Package connection carries the caller-facing transport: base64 PCM16 audio
// frames and control messages inbound, pipeline events and synthesized audio
// chunks outbound.
package connection

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voiceline-ai/voiceline/pkg/pipeline"
)

// State represents the state of a connection.
type State int

const (
	StateNew State = iota
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventHandler handles connection lifecycle events.
type EventHandler interface {
	// OnStateChange is called when the connection state changes.
	OnStateChange(state State)

	// OnMessage is called for each decoded inbound message.
	OnMessage(msg *pipeline.PipelineMessage)

	// OnError is called when the transport fails.
	OnError(err error)
}

// NoOpEventHandler is a no-op implementation for convenience.
type NoOpEventHandler struct{}

func (h *NoOpEventHandler) OnStateChange(state State)               {}
func (h *NoOpEventHandler) OnMessage(msg *pipeline.PipelineMessage) {}
func (h *NoOpEventHandler) OnError(err error)                       {}

// Connection is one caller's bidirectional transport.
type Connection interface {
	// PeerID returns the unique identifier for this connection.
	PeerID() string

	// RegisterEventHandler registers an event handler for connection events.
	RegisterEventHandler(handler EventHandler)

	// SendMessage queues an outbound message, typically synthesized audio.
	SendMessage(msg *pipeline.PipelineMessage)

	// SendEvent queues a pipeline event for delivery as a JSON frame.
	SendEvent(evt pipeline.Event)

	// Close closes the connection and releases resources.
	Close() error
}

// Envelope is the JSON frame exchanged with the caller. Inbound types are
// "audio", "stop", "reset" and "text"; outbound frames reuse the same shape
// with the event's wire name as the type.
type Envelope struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"` // base64 PCM16
	Sequence int64  `json:"sequence,omitempty"`
	Text     string `json:"text,omitempty"`

	Confidence float32 `json:"confidence,omitempty"`
	LatencyMs  float64 `json:"latency_ms,omitempty"`

	Chunks       int64   `json:"chunks,omitempty"`
	FirstChunkMs float64 `json:"first_chunk_ms,omitempty"`

	Reason string `json:"reason,omitempty"`
	Action string `json:"action,omitempty"`

	Component string `json:"component,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EncodeEvent renders a bus event as an outbound frame.
func EncodeEvent(evt pipeline.Event) ([]byte, error) {
	env := Envelope{Type: evt.Type.String()}

	switch payload := evt.Payload.(type) {
	case pipeline.TranscriptPayload:
		env.Text = payload.Text
		env.Confidence = payload.Confidence
		env.Sequence = payload.Sequence
		env.LatencyMs = payload.LatencyMs
	case pipeline.VADPayload:
		env.Confidence = payload.Confidence
		env.Action = payload.Action
	case pipeline.AudioDonePayload:
		env.Chunks = payload.Chunks
		env.FirstChunkMs = payload.FirstChunkMs
	case pipeline.EscalatePayload:
		env.Reason = payload.Reason
		env.Action = payload.Action
	case pipeline.ErrorPayload:
		env.Component = payload.Component
		env.Message = payload.Message
	}

	return json.Marshal(env)
}

// EncodeAudioChunk renders one synthesized audio chunk as an outbound frame.
func EncodeAudioChunk(data []byte, sequence int64) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:     "audio.chunk",
		Data:     base64.StdEncoding.EncodeToString(data),
		Sequence: sequence,
	})
}

// DecodeInbound parses one caller frame into a pipeline message.
func DecodeInbound(data []byte, sampleRate, channels int) (*pipeline.PipelineMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case "audio":
		audioData, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("bad audio data: %w", err)
		}
		return &pipeline.PipelineMessage{
			Type: pipeline.MsgTypeAudio,
			AudioData: &pipeline.AudioData{
				Data:       audioData,
				SampleRate: sampleRate,
				Channels:   channels,
				MediaType:  pipeline.AudioMediaTypeRaw,
				Sequence:   env.Sequence,
			},
		}, nil

	case "stop":
		return &pipeline.PipelineMessage{
			Type:    pipeline.MsgTypeCommand,
			Command: pipeline.CmdStop,
		}, nil

	case "reset":
		return &pipeline.PipelineMessage{
			Type:    pipeline.MsgTypeCommand,
			Command: pipeline.CmdReset,
		}, nil

	case "text":
		if env.Text == "" {
			return nil, fmt.Errorf("text frame without text")
		}
		return &pipeline.PipelineMessage{
			Type: pipeline.MsgTypeData,
			TextData: &pipeline.TextData{
				Data:     []byte(env.Text),
				TextType: "text",
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
