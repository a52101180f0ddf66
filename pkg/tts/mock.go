package tts

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scriptable in-memory TTS provider for tests. Each
// synthesis streams the configured chunks with an optional per-chunk delay,
// which lets tests cancel mid-stream to exercise barge-in paths.
type MockProvider struct {
	mu       sync.Mutex
	requests []*SynthesizeRequest

	// Chunks is the audio returned per synthesis. Defaults to three
	// 320-byte chunks when nil.
	Chunks [][]byte

	// ChunkDelay is slept before each chunk is delivered.
	ChunkDelay time.Duration

	// Err, when set, is emitted on the error channel instead of audio.
	Err error
}

var _ StreamingProvider = (*MockProvider)(nil)

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) ValidateConfig() error {
	return nil
}

func (p *MockProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	audioChan, errChan := p.StreamSynthesize(ctx, req)

	var audioData []byte
	for chunk := range audioChan {
		audioData = append(audioData, chunk...)
	}
	if err := <-errChan; err != nil {
		return nil, err
	}
	return &SynthesizeResponse{
		AudioData: audioData,
		AudioFormat: AudioFormat{
			SampleRate: 16000,
			Channels:   1,
			Encoding:   "pcm_s16le",
		},
	}, nil
}

func (p *MockProvider) StreamSynthesize(ctx context.Context, req *SynthesizeRequest) (<-chan []byte, <-chan error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	chunks := p.Chunks
	delay := p.ChunkDelay
	errOut := p.Err
	p.mu.Unlock()

	if chunks == nil {
		chunks = [][]byte{
			make([]byte, 320),
			make([]byte, 320),
			make([]byte, 320),
		}
	}

	audioChan := make(chan []byte, len(chunks))
	errChan := make(chan error, 1)

	go func() {
		defer close(audioChan)
		defer close(errChan)

		if errOut != nil {
			errChan <- errOut
			return
		}

		for _, chunk := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case audioChan <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioChan, errChan
}

// Requests returns every synthesis request received, in order.
func (p *MockProvider) Requests() []*SynthesizeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*SynthesizeRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
