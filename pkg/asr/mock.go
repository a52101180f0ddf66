package asr

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scriptable in-memory ASR provider for tests. Streams it
// creates record every frame they receive, and tests push results through
// EmitPartial / EmitFinal or simulate a provider drop with Disconnect.
type MockProvider struct {
	mu      sync.Mutex
	streams []*MockRecognizer

	// FailConnect makes StreamingRecognize return an error.
	FailConnect bool
}

var _ Provider = (*MockProvider)(nil)

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) StreamingRecognize(ctx context.Context, audioConfig AudioConfig, config RecognitionConfig) (StreamingRecognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailConnect {
		return nil, &Error{Code: ErrCodeNetworkError, Message: "mock connect failure"}
	}

	r := &MockRecognizer{
		config:      config,
		resultsChan: make(chan *RecognitionResult, 32),
	}
	p.streams = append(p.streams, r)
	return r, nil
}

func (p *MockProvider) Close() error {
	return nil
}

// Streams returns every recognizer created so far.
func (p *MockProvider) Streams() []*MockRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockRecognizer, len(p.streams))
	copy(out, p.streams)
	return out
}

// LastStream returns the most recently created recognizer, or nil.
func (p *MockProvider) LastStream() *MockRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// MockRecognizer records audio and lets tests inject results.
type MockRecognizer struct {
	config RecognitionConfig

	mu          sync.Mutex
	frames      [][]byte
	commits     int
	closed      bool
	resultsChan chan *RecognitionResult

	// SendErr, when set, is returned by SendAudio.
	SendErr error
}

var _ StreamingRecognizer = (*MockRecognizer)(nil)

func (r *MockRecognizer) SendAudio(ctx context.Context, audioData []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SendErr != nil {
		return r.SendErr
	}
	if r.closed {
		return &Error{Code: ErrCodeNetworkError, Message: "recognizer is closed"}
	}

	frame := make([]byte, len(audioData))
	copy(frame, audioData)
	r.frames = append(r.frames, frame)
	return nil
}

func (r *MockRecognizer) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &Error{Code: ErrCodeNetworkError, Message: "recognizer is closed"}
	}
	r.commits++
	return nil
}

func (r *MockRecognizer) Results() <-chan *RecognitionResult {
	return r.resultsChan
}

func (r *MockRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.resultsChan)
	}
	return nil
}

// EmitPartial pushes an interim transcript to the consumer.
func (r *MockRecognizer) EmitPartial(text string, confidence float32) {
	r.emit(&RecognitionResult{
		Text:       text,
		IsFinal:    false,
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
}

// EmitFinal pushes a committed transcript to the consumer.
func (r *MockRecognizer) EmitFinal(text string, confidence float32) {
	r.emit(&RecognitionResult{
		Text:       text,
		IsFinal:    true,
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
}

// Disconnect simulates a provider-side drop: the results channel closes
// without the consumer having called Close.
func (r *MockRecognizer) Disconnect() {
	r.Close()
}

func (r *MockRecognizer) emit(result *RecognitionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.resultsChan <- result
}

// Frames returns the audio frames received, in order.
func (r *MockRecognizer) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// Commits returns how many commits were requested.
func (r *MockRecognizer) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Closed reports whether the recognizer was closed or disconnected.
func (r *MockRecognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
