package elements

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/tts"
)

// TTSRelayElement streams synthesized speech to the caller one chunk at a
// time. At most one response plays at a time; starting a new one or calling
// StopSpeaking cancels the current stream at chunk granularity, so a barge-in
// takes effect within one chunk.
//
// A completed response publishes audio.done with the chunk count and
// first-chunk latency; a cancelled one publishes audio.stopped. Exactly one
// of the two is published per response.
type TTSRelayElement struct {
	*pipeline.BaseElement

	provider tts.StreamingProvider
	voice    string
	settings tts.VoiceSettings

	sampleRate int

	mu          sync.Mutex
	cancelSpeak context.CancelFunc
	speakWG     sync.WaitGroup

	sessionID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTTSRelayElement creates the relay with the tenant's voice settings.
func NewTTSRelayElement(provider tts.StreamingProvider, voice string, settings tts.VoiceSettings, sampleRate int) *TTSRelayElement {
	return &TTSRelayElement{
		BaseElement: pipeline.NewBaseElement("tts-relay-element", 100),
		provider:    provider,
		voice:       voice,
		settings:    settings,
		sampleRate:  sampleRate,
	}
}

func (e *TTSRelayElement) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()

	return nil
}

func (e *TTSRelayElement) Stop() error {
	e.StopSpeaking()
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}
	return nil
}

// run services the element's inbox: response text starts synthesis, a stop
// command cancels it.
func (e *TTSRelayElement) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.BaseElement.InChan:
			if !ok {
				return
			}
			switch {
			case msg.Type == pipeline.MsgTypeCommand && msg.Command == pipeline.CmdStop:
				e.StopSpeaking()
			case msg.Type == pipeline.MsgTypeData && msg.TextData != nil:
				e.Speak(ctx, msg.SessionID, string(msg.TextData.Data))
			}
		}
	}
}

// Speak starts streaming a synthesized response, cancelling any response
// still playing. Returns once the stream is started; completion is reported
// on the bus.
func (e *TTSRelayElement) Speak(ctx context.Context, sessionID, text string) {
	if text == "" {
		return
	}

	e.StopSpeaking()

	speakCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancelSpeak = cancel
	e.sessionID = sessionID
	e.mu.Unlock()

	e.speakWG.Add(1)
	go func() {
		defer e.speakWG.Done()
		defer cancel()
		e.stream(speakCtx, sessionID, text)
	}()
}

// StopSpeaking cancels the current response, if any, and waits for the
// stream goroutine to finish so chunk ordering is preserved.
func (e *TTSRelayElement) StopSpeaking() {
	e.mu.Lock()
	cancel := e.cancelSpeak
	e.cancelSpeak = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.speakWG.Wait()
}

func (e *TTSRelayElement) stream(ctx context.Context, sessionID, text string) {
	started := time.Now()
	log.Printf("[TTS-Relay] Synthesizing %d chars", len(text))

	audioChan, errChan := e.provider.StreamSynthesize(ctx, &tts.SynthesizeRequest{
		Text:     text,
		Voice:    e.voice,
		Settings: &e.settings,
	})

	var (
		chunks       int64
		firstChunkMs float64
	)

	for {
		select {
		case <-ctx.Done():
			e.publishDone(pipeline.EventAudioStopped, sessionID, chunks, firstChunkMs)
			return

		case chunk, ok := <-audioChan:
			if !ok {
				select {
				case err := <-errChan:
					if err != nil {
						log.Printf("[TTS-Relay] Synthesis failed: %v", err)
						e.publishError(sessionID, err)
						return
					}
				default:
				}
				e.publishDone(pipeline.EventAudioDone, sessionID, chunks, firstChunkMs)
				return
			}

			if chunks == 0 {
				firstChunkMs = float64(time.Since(started)) / float64(time.Millisecond)
			}
			chunks++

			msg := &pipeline.PipelineMessage{
				Type:      pipeline.MsgTypeAudio,
				SessionID: sessionID,
				Timestamp: time.Now(),
				AudioData: &pipeline.AudioData{
					Data:       chunk,
					SampleRate: e.sampleRate,
					Channels:   1,
					MediaType:  pipeline.AudioMediaTypeRaw,
					Sequence:   chunks,
					Timestamp:  time.Now(),
				},
			}

			select {
			case e.BaseElement.OutChan <- msg:
			case <-ctx.Done():
				e.publishDone(pipeline.EventAudioStopped, sessionID, chunks-1, firstChunkMs)
				return
			}
		}
	}
}

func (e *TTSRelayElement) publishDone(eventType pipeline.EventType, sessionID string, chunks int64, firstChunkMs float64) {
	if e.Bus() == nil {
		return
	}
	if eventType == pipeline.EventAudioDone {
		log.Printf("[TTS-Relay] Response complete: %d chunks, first chunk in %.0fms", chunks, firstChunkMs)
	} else {
		log.Printf("[TTS-Relay] Response stopped after %d chunks", chunks)
	}
	e.Bus().Publish(pipeline.Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload: pipeline.AudioDonePayload{
			Chunks:       chunks,
			FirstChunkMs: firstChunkMs,
			Timestamp:    time.Now(),
		},
	})
}

func (e *TTSRelayElement) publishError(sessionID string, err error) {
	if e.Bus() == nil {
		return
	}
	e.Bus().Publish(pipeline.Event{
		Type:      pipeline.EventError,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   pipeline.ErrorPayload{Component: "tts", Message: err.Error()},
	})
}

var _ pipeline.Element = (*TTSRelayElement)(nil)
