// Package audio provides PCM16 buffering utilities for the call pipeline.
//
// RingBuffer is a fixed-size circular buffer sized by audio duration. It backs
// two pipeline concerns: the VAD pre-roll (the prefix_padding_ms of audio kept
// ahead of a speech.detected event) and the ASR relay's recoverable pause
// (audio retained while the transcription provider is disconnected, replayed
// on reconnect, oldest frames dropped on overflow).
package audio

import (
	"sync"
)

const bytesPerSample = 2 // 16-bit mono PCM

// RingBuffer is a thread-safe circular buffer for PCM16 byte data. Writes
// never allocate; when full, the oldest audio is overwritten.
type RingBuffer struct {
	data     []byte
	capacity int
	writePos int
	size     int
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding durationMs of 16-bit mono PCM
// at the given sample rate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	samples := sampleRate * durationMs / 1000
	capacity := samples * bytesPerSample

	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data, overwriting the oldest audio if the buffer is full.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	dataLen := len(data)
	if dataLen == 0 {
		return
	}

	// Incoming data larger than the whole buffer: keep only the tail.
	if dataLen >= rb.capacity {
		copy(rb.data, data[dataLen-rb.capacity:])
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	spaceToEnd := rb.capacity - rb.writePos
	if dataLen <= spaceToEnd {
		copy(rb.data[rb.writePos:], data)
		rb.writePos += dataLen
		if rb.writePos == rb.capacity {
			rb.writePos = 0
		}
	} else {
		copy(rb.data[rb.writePos:], data[:spaceToEnd])
		copy(rb.data[0:], data[spaceToEnd:])
		rb.writePos = dataLen - spaceToEnd
	}

	rb.size += dataLen
	if rb.size > rb.capacity {
		rb.size = rb.capacity
	}
}

// ReadAll returns the buffered audio in chronological order without
// consuming it.
func (rb *RingBuffer) ReadAll() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.snapshotLocked()
}

// Drain returns the buffered audio in chronological order and empties the
// buffer. Used by the ASR relay to replay audio after a reconnect.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := rb.snapshotLocked()
	rb.writePos = 0
	rb.size = 0
	return out
}

func (rb *RingBuffer) snapshotLocked() []byte {
	if rb.size == 0 {
		return nil
	}

	result := make([]byte, rb.size)
	if rb.size < rb.capacity {
		copy(result, rb.data[:rb.size])
	} else {
		// Full buffer: oldest audio starts at writePos.
		firstPartLen := rb.capacity - rb.writePos
		copy(result[:firstPartLen], rb.data[rb.writePos:])
		copy(result[firstPartLen:], rb.data[:rb.writePos])
	}
	return result
}

// Clear resets the buffer to empty.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.size = 0
}

// Size returns the current amount of buffered data in bytes.
func (rb *RingBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the total capacity in bytes.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
