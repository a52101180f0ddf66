// Package vad provides voice activity detection over PCM16 audio frames.
//
// The detector is a pure energy classifier: each fixed-size frame of 16-bit
// little-endian PCM is reduced to a normalized RMS level and compared against
// a threshold. A state machine turns frame classifications into utterance
// events (speech start, speech end) without flapping on single-frame noise.
//
// Usage:
//
//	det := vad.NewDetector(vad.DetectorConfig{
//	    SampleRate:        16000,
//	    Threshold:         0.02,
//	    SilenceDurationMs: 700,
//	})
//	for frame := range frames {
//	    if evt := det.ProcessFrame(frame); evt != nil {
//	        ...
//	    }
//	}
package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/audio"
)

// EventKind classifies detector output events.
type EventKind int

const (
	// EventSpeechStart is emitted once per contiguous speech run, on the
	// first frame whose energy exceeds the threshold.
	EventSpeechStart EventKind = iota
	// EventSpeechEnd is emitted after SilenceDurationMs of continuous
	// silence following a speech run.
	EventSpeechEnd
)

// Event is a detector state transition.
type Event struct {
	Kind EventKind
	// Confidence is the normalized RMS level of the triggering frame,
	// scaled against the threshold and capped at 1.0.
	Confidence float32
	// BargeInCount is the number of speech runs seen so far, including
	// this one. Only meaningful for EventSpeechStart.
	BargeInCount int
	Timestamp    time.Time
}

// DetectorConfig holds detector tuning parameters.
type DetectorConfig struct {
	// SampleRate of the inbound PCM16 audio in Hz.
	SampleRate int
	// Threshold is the normalized RMS energy ([0,1]) above which a frame
	// counts as speech.
	Threshold float64
	// SilenceDurationMs of continuous non-speech required before a speech
	// run is considered ended. The timer resets on every speech frame.
	SilenceDurationMs int
	// PrefixPaddingMs of audio retained in a pre-roll buffer ahead of
	// speech start. Zero disables the pre-roll.
	PrefixPaddingMs int
}

// Validate checks the configuration.
func (c DetectorConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", c.SampleRate)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("invalid Threshold: %v, must be in (0, 1)", c.Threshold)
	}
	if c.SilenceDurationMs <= 0 {
		return fmt.Errorf("invalid SilenceDurationMs: %d", c.SilenceDurationMs)
	}
	if c.PrefixPaddingMs < 0 {
		return fmt.Errorf("invalid PrefixPaddingMs: %d", c.PrefixPaddingMs)
	}
	return nil
}

type detectorState int

const (
	stateIdle detectorState = iota
	stateSpeaking
)

// Detector classifies PCM16 frames as speech or silence and tracks utterance
// boundaries. Not safe for concurrent use; each call session owns one.
type Detector struct {
	cfg DetectorConfig

	state        detectorState
	silenceMs    float64
	bargeInCount int
	preRoll      *audio.RingBuffer
}

// NewDetector creates a detector. The configuration must have been validated
// by the caller (session start rejects bad configs before building elements).
func NewDetector(cfg DetectorConfig) *Detector {
	d := &Detector{cfg: cfg}
	if cfg.PrefixPaddingMs > 0 {
		d.preRoll = audio.NewRingBuffer(cfg.SampleRate, cfg.PrefixPaddingMs)
	}
	return d
}

// ProcessFrame classifies one PCM16-LE frame and returns a state-transition
// event, or nil when the state is unchanged. O(len(frame)); no I/O.
func (d *Detector) ProcessFrame(frame []byte) *Event {
	if len(frame) < 2 {
		return nil
	}

	level := rmsLevel(frame)
	isSpeech := level > d.cfg.Threshold
	frameMs := float64(len(frame)/2) / float64(d.cfg.SampleRate) * 1000

	if d.preRoll != nil {
		d.preRoll.Write(frame)
	}

	switch d.state {
	case stateIdle:
		if isSpeech {
			d.state = stateSpeaking
			d.silenceMs = 0
			d.bargeInCount++
			return &Event{
				Kind:         EventSpeechStart,
				Confidence:   confidence(level, d.cfg.Threshold),
				BargeInCount: d.bargeInCount,
				Timestamp:    time.Now(),
			}
		}

	case stateSpeaking:
		if isSpeech {
			// Any speech frame restarts the silence window.
			d.silenceMs = 0
			return nil
		}
		d.silenceMs += frameMs
		if d.silenceMs >= float64(d.cfg.SilenceDurationMs) {
			d.state = stateIdle
			d.silenceMs = 0
			return &Event{
				Kind:      EventSpeechEnd,
				Timestamp: time.Now(),
			}
		}
	}

	return nil
}

// Speaking reports whether the detector is inside a speech run.
func (d *Detector) Speaking() bool {
	return d.state == stateSpeaking
}

// BargeInCount returns the number of speech runs detected so far.
func (d *Detector) BargeInCount() int {
	return d.bargeInCount
}

// PreRoll returns the buffered audio preceding the current moment, in
// chronological order. Nil when prefix padding is disabled.
func (d *Detector) PreRoll() []byte {
	if d.preRoll == nil {
		return nil
	}
	return d.preRoll.ReadAll()
}

// Reset returns the detector to idle and clears the pre-roll. The barge-in
// counter is preserved: it counts runs for the whole call.
func (d *Detector) Reset() {
	d.state = stateIdle
	d.silenceMs = 0
	if d.preRoll != nil {
		d.preRoll.Clear()
	}
}

// rmsLevel computes the normalized RMS energy of a PCM16-LE frame.
func rmsLevel(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

func confidence(level, threshold float64) float32 {
	c := level / (threshold * 2)
	if c > 1 {
		c = 1
	}
	return float32(c)
}
