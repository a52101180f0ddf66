package pipeline

import "time"

// EventType enumerates bus events exchanged between elements and the
// orchestrator. String values are the wire names sent to the caller transport.
type EventType int

const (
	EventError EventType = iota
	EventASRConnected
	EventASRDisconnected
	EventTranscriptPartial
	EventTranscriptFinal
	EventVADSpeechStart
	EventVADSpeechEnd
	EventResponseStart
	EventAudioDone
	EventAudioStopped
	EventEscalate
)

func (t EventType) String() string {
	switch t {
	case EventError:
		return "error"
	case EventASRConnected:
		return "asr.connected"
	case EventASRDisconnected:
		return "asr.disconnected"
	case EventTranscriptPartial:
		return "transcript.partial"
	case EventTranscriptFinal:
		return "transcript.final"
	case EventVADSpeechStart:
		return "speech.detected"
	case EventVADSpeechEnd:
		return "speech.ended"
	case EventResponseStart:
		return "response.start"
	case EventAudioDone:
		return "audio.done"
	case EventAudioStopped:
		return "audio.stopped"
	case EventEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Event is a bus message. Payload type depends on Type.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Payload   interface{}
}

// TranscriptPayload accompanies EventTranscriptPartial and
// EventTranscriptFinal. Sequence increases monotonically per session for
// final transcripts only.
type TranscriptPayload struct {
	Text       string
	Confidence float32
	Sequence   int64
	IsFinal    bool
	// LatencyMs is the delay between the last forwarded audio frame of the
	// utterance and the provider's final result. Zero for partials.
	LatencyMs float64
	Timestamp time.Time
}

// VADPayload accompanies EventVADSpeechStart and EventVADSpeechEnd.
type VADPayload struct {
	Confidence   float32
	Action       string // action hint for speech start, e.g. "stop_tts"
	BargeInCount int
	Timestamp    time.Time
}

// AudioDonePayload accompanies EventAudioDone and EventAudioStopped.
type AudioDonePayload struct {
	// Chunks streamed before completion or cancellation.
	Chunks int64
	// FirstChunkMs is the synthesis first-chunk latency for the response.
	FirstChunkMs float64
	Timestamp    time.Time
}

// EscalatePayload accompanies EventEscalate.
type EscalatePayload struct {
	Reason string
	Action string
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Component string
	Message   string
}
