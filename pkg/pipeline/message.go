package pipeline

import (
	"fmt"
	"time"
)

// AudioMediaType identifies the framing of audio payloads.
type AudioMediaType string

const (
	// Raw PCM16 little-endian audio (the only format the pipeline processes)
	AudioMediaTypeRaw AudioMediaType = "audio/x-raw"
	// PCM audio format (alias used by some provider payloads)
	AudioMediaTypePCM AudioMediaType = "audio/pcm"
)

// String returns the string representation of AudioMediaType.
func (amt AudioMediaType) String() string {
	return string(amt)
}

// AudioData is one chunk of PCM16 audio moving through the pipeline.
type AudioData struct {
	Data       []byte
	SampleRate int
	Channels   int
	MediaType  AudioMediaType
	// Sequence is the transport-assigned frame order. Frames must reach the
	// ASR provider in this order; providers are stateful streams.
	Sequence  int64
	Timestamp time.Time
}

// TextData carries transcript or response text between elements.
type TextData struct {
	Data      []byte
	TextType  string // "transcript", "response", "greeting", "clarification"
	Timestamp time.Time
}

type PipelineMessageType int

const (
	MsgTypeAudio PipelineMessageType = iota
	MsgTypeData
	MsgTypeCommand
)

// CommandType enumerates out-of-band control messages.
type CommandType int

const (
	CmdStop CommandType = iota
	CmdReset
)

// PipelineMessage is the unit of work flowing between elements.
type PipelineMessage struct {
	Type PipelineMessageType

	// SessionID identifies the call this message belongs to.
	SessionID string
	Timestamp time.Time

	AudioData *AudioData
	TextData  *TextData
	Command   CommandType

	Metadata interface{}
}

func (p *PipelineMessage) String() string {
	return fmt.Sprintf("PipelineMessage{Type: %d, SessionID: %s, Timestamp: %s}", p.Type, p.SessionID, p.Timestamp)
}
