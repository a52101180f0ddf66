package elements

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/asr"
	"github.com/voiceline-ai/voiceline/pkg/audio"
	"github.com/voiceline-ai/voiceline/pkg/pipeline"
)

const (
	// asrReconnectAttempts bounds recovery after a provider drop before the
	// element gives up and reports a hard error.
	asrReconnectAttempts = 3
	asrReconnectDelay    = 500 * time.Millisecond

	// asrOutageBufferMs of audio retained while the provider stream is
	// down, replayed on reconnect.
	asrOutageBufferMs = 5000
)

// ASRRelayElement forwards inbound audio frames to a streaming recognition
// provider in arrival order and publishes transcripts on the bus. Partial
// transcripts are advisory; final transcripts carry a per-session monotonic
// sequence and the utterance's recognition latency.
//
// A provider disconnect is recoverable: audio is buffered while the stream
// is re-established and replayed once the new stream is up, so the caller
// hears no difference beyond added latency.
type ASRRelayElement struct {
	*pipeline.BaseElement

	provider asr.Provider
	audioCfg asr.AudioConfig
	recCfg   asr.RecognitionConfig

	recognizer asr.StreamingRecognizer
	outageBuf  *audio.RingBuffer

	finalSeq    atomic.Int64
	lastAudioAt atomic.Int64 // unix nanos of the last frame sent

	sessionID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewASRRelayElement creates the relay. The stream itself is opened in Start.
func NewASRRelayElement(provider asr.Provider, audioCfg asr.AudioConfig, recCfg asr.RecognitionConfig) *ASRRelayElement {
	return &ASRRelayElement{
		BaseElement: pipeline.NewBaseElement("asr-relay-element", 100),
		provider:    provider,
		audioCfg:    audioCfg,
		recCfg:      recCfg,
		outageBuf:   audio.NewRingBuffer(audioCfg.SampleRate, asrOutageBufferMs),
	}
}

func (e *ASRRelayElement) Init(ctx context.Context) error {
	recognizer, err := e.provider.StreamingRecognize(ctx, e.audioCfg, e.recCfg)
	if err != nil {
		return err
	}
	e.recognizer = recognizer
	log.Printf("[ASR-Relay] Stream opened with provider %s", e.provider.Name())
	return nil
}

func (e *ASRRelayElement) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()

	return nil
}

func (e *ASRRelayElement) Stop() error {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}
	if e.recognizer != nil {
		e.recognizer.Close()
		e.recognizer = nil
	}
	return nil
}

// Commit forces the provider to finalize the current utterance. Called by
// the orchestrator when the VAD reports end of speech.
func (e *ASRRelayElement) Commit(ctx context.Context) error {
	if e.recognizer == nil {
		return nil
	}
	return e.recognizer.Commit(ctx)
}

func (e *ASRRelayElement) run(ctx context.Context) {
	for {
		if e.recognizer == nil {
			if !e.reconnect(ctx) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return

		case msg, ok := <-e.BaseElement.InChan:
			if !ok {
				return
			}
			e.handleMessage(ctx, msg)

		case result, ok := <-e.recognizer.Results():
			if !ok {
				// Provider-side drop; recovery path.
				log.Printf("[ASR-Relay] Provider stream lost")
				e.publishConnState(pipeline.EventASRDisconnected)
				e.recognizer = nil
				continue
			}
			e.publishTranscript(result)
		}
	}
}

func (e *ASRRelayElement) handleMessage(ctx context.Context, msg *pipeline.PipelineMessage) {
	if msg.Type == pipeline.MsgTypeCommand && msg.Command == pipeline.CmdStop {
		if err := e.Commit(ctx); err != nil {
			log.Printf("[ASR-Relay] Commit failed: %v", err)
		}
		return
	}

	if msg.Type != pipeline.MsgTypeAudio || msg.AudioData == nil || len(msg.AudioData.Data) == 0 {
		return
	}
	if e.sessionID == "" {
		e.sessionID = msg.SessionID
	}

	if e.recognizer == nil {
		e.outageBuf.Write(msg.AudioData.Data)
		return
	}

	if err := e.recognizer.SendAudio(ctx, msg.AudioData.Data); err != nil {
		log.Printf("[ASR-Relay] SendAudio failed, buffering: %v", err)
		e.outageBuf.Write(msg.AudioData.Data)
		return
	}
	e.lastAudioAt.Store(time.Now().UnixNano())
}

// reconnect re-opens the provider stream with bounded retries, draining any
// queued inbound audio into the outage buffer between attempts. Returns
// false when the element should stop.
func (e *ASRRelayElement) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= asrReconnectAttempts; attempt++ {
		e.drainPendingAudio()

		recognizer, err := e.provider.StreamingRecognize(ctx, e.audioCfg, e.recCfg)
		if err == nil {
			e.recognizer = recognizer
			e.replayBuffered(ctx)
			e.publishConnState(pipeline.EventASRConnected)
			log.Printf("[ASR-Relay] Reconnected (attempt %d)", attempt)
			return true
		}

		log.Printf("[ASR-Relay] Reconnect attempt %d/%d failed: %v", attempt, asrReconnectAttempts, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(asrReconnectDelay * time.Duration(attempt)):
		}
	}

	e.publishError("asr", "recognition stream could not be re-established")
	return false
}

// drainPendingAudio moves queued inbound frames into the outage buffer
// without blocking.
func (e *ASRRelayElement) drainPendingAudio() {
	for {
		select {
		case msg, ok := <-e.BaseElement.InChan:
			if !ok {
				return
			}
			if msg.Type == pipeline.MsgTypeAudio && msg.AudioData != nil {
				e.outageBuf.Write(msg.AudioData.Data)
			}
		default:
			return
		}
	}
}

func (e *ASRRelayElement) replayBuffered(ctx context.Context) {
	buffered := e.outageBuf.Drain()
	if len(buffered) == 0 {
		return
	}
	if err := e.recognizer.SendAudio(ctx, buffered); err != nil {
		log.Printf("[ASR-Relay] Failed to replay %d buffered bytes: %v", len(buffered), err)
		return
	}
	e.lastAudioAt.Store(time.Now().UnixNano())
	log.Printf("[ASR-Relay] Replayed %d buffered bytes after reconnect", len(buffered))
}

func (e *ASRRelayElement) publishTranscript(result *asr.RecognitionResult) {
	if e.Bus() == nil || result.Text == "" {
		return
	}

	payload := pipeline.TranscriptPayload{
		Text:       result.Text,
		Confidence: result.Confidence,
		IsFinal:    result.IsFinal,
		Timestamp:  result.Timestamp,
	}

	eventType := pipeline.EventTranscriptPartial
	if result.IsFinal {
		eventType = pipeline.EventTranscriptFinal
		payload.Sequence = e.finalSeq.Add(1)
		if last := e.lastAudioAt.Load(); last > 0 {
			payload.LatencyMs = float64(time.Now().UnixNano()-last) / float64(time.Millisecond)
		}
		log.Printf("[ASR-Relay] Final transcript #%d (%.0fms): %q", payload.Sequence, payload.LatencyMs, result.Text)
	}

	e.Bus().Publish(pipeline.Event{
		Type:      eventType,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (e *ASRRelayElement) publishConnState(eventType pipeline.EventType) {
	if e.Bus() == nil {
		return
	}
	e.Bus().Publish(pipeline.Event{
		Type:      eventType,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
	})
}

func (e *ASRRelayElement) publishError(component, message string) {
	if e.Bus() == nil {
		return
	}
	e.Bus().Publish(pipeline.Event{
		Type:      pipeline.EventError,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Payload:   pipeline.ErrorPayload{Component: component, Message: message},
	})
}

var _ pipeline.Element = (*ASRRelayElement)(nil)
