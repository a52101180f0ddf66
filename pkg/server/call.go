package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voiceline-ai/voiceline/pkg/asr"
	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/connection"
	"github.com/voiceline-ai/voiceline/pkg/elements"
	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/session"
	"github.com/voiceline-ai/voiceline/pkg/trace"
	"github.com/voiceline-ai/voiceline/pkg/tts"
	"github.com/voiceline-ai/voiceline/pkg/vad"
)

// call bundles one caller's transport, pipeline and orchestrator.
type call struct {
	id       string
	tenantID string
	clientIP string

	server *Server

	conn connection.Connection
	pipe *pipeline.Pipeline

	vadElem  *elements.VADElement
	asrRelay *elements.ASRRelayElement
	ttsRelay *elements.TTSRelayElement
	orch     *session.Orchestrator

	eventCh chan pipeline.Event
	timeout *time.Timer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	endSpan   func()
}

// forwardedEvents are delivered to the caller as JSON frames.
var forwardedEvents = []pipeline.EventType{
	pipeline.EventASRConnected,
	pipeline.EventASRDisconnected,
	pipeline.EventTranscriptPartial,
	pipeline.EventTranscriptFinal,
	pipeline.EventVADSpeechStart,
	pipeline.EventVADSpeechEnd,
	pipeline.EventAudioDone,
	pipeline.EventAudioStopped,
	pipeline.EventEscalate,
	pipeline.EventError,
}

// startCall loads the tenant, builds the per-call pipeline and brings
// everything up. Configuration problems fail the call before the caller
// hears anything.
func (s *Server) startCall(ctx context.Context, wsConn *websocket.Conn, tenantID, clientIP string) (*call, error) {
	tenant, err := s.deps.Store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	cfg := config.Default()
	if len(tenant.PipelineConfig) > 0 {
		cfg, err = config.Parse(tenant.PipelineConfig)
		if err != nil {
			return nil, fmt.Errorf("tenant pipeline config: %w", err)
		}
	}

	schemas, err := s.deps.Store.ListIntentSchemas(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load intent schemas: %w", err)
	}

	asrProvider, err := s.deps.NewASRProvider(cfg.ASR)
	if err != nil {
		return nil, fmt.Errorf("asr provider: %w", err)
	}
	ttsProvider, err := s.deps.NewTTSProvider(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("tts provider: %w", err)
	}
	extractor, err := s.deps.NewExtractor(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	callID := uuid.New().String()
	callCtx, cancel := context.WithCancel(ctx)
	callCtx, span := trace.StartCallSpan(callCtx, callID, tenantID)

	vadElem, err := elements.NewVADElement(vad.DetectorConfig{
		SampleRate:        s.config.SampleRate,
		Threshold:         cfg.VAD.Threshold,
		SilenceDurationMs: cfg.VAD.SilenceDurationMs,
		PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
	}, cfg.VAD.Enabled)
	if err != nil {
		cancel()
		span.End()
		return nil, fmt.Errorf("vad: %w", err)
	}

	asrRelay := elements.NewASRRelayElement(asrProvider, asr.AudioConfig{
		SampleRate:    s.config.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}, asr.RecognitionConfig{
		Model:          cfg.ASR.Model,
		Language:       cfg.ASR.Language,
		InterimResults: cfg.ASR.InterimResults,
	})

	ttsRelay := elements.NewTTSRelayElement(ttsProvider, cfg.TTS.VoiceID, tts.VoiceSettings{
		Stability:       cfg.TTS.Stability,
		SimilarityBoost: cfg.TTS.SimilarityBoost,
		Speed:           cfg.TTS.Speed,
	}, s.config.SampleRate)

	pipe := pipeline.NewPipeline(callID)
	pipe.AddElements([]pipeline.Element{vadElem, asrRelay, ttsRelay})
	pipe.Link(vadElem, asrRelay)

	orch, err := session.NewOrchestrator(session.Options{
		CallID:    callID,
		Tenant:    tenant,
		Config:    cfg,
		Schemas:   schemas,
		Extractor: extractor,
		Retriever: s.deps.Retriever,
		Store:     s.deps.Store,
		Bus:       pipe.Bus(),
		Speaker:   ttsRelay,
		Committer: asrRelay,
	})
	if err != nil {
		cancel()
		span.End()
		return nil, err
	}

	c := &call{
		id:       callID,
		tenantID: tenantID,
		clientIP: clientIP,
		server:   s,
		pipe:     pipe,
		vadElem:  vadElem,
		asrRelay: asrRelay,
		ttsRelay: ttsRelay,
		orch:     orch,
		eventCh:  make(chan pipeline.Event, 64),
		cancel:   cancel,
		endSpan:  func() { span.End() },
	}

	c.conn = connection.NewWebSocketConnectionWithConfig(callID, wsConn, connection.WebSocketConfig{
		Tenant:     tenantID,
		SampleRate: s.config.SampleRate,
		Channels:   1,
		WriteWait:  connection.DefaultWSWriteWait,
		PongWait:   connection.DefaultWSPongWait,
		PingPeriod: connection.DefaultWSPingPeriod,
	})
	c.conn.RegisterEventHandler(&callHandler{call: c})

	if err := pipe.Start(callCtx); err != nil {
		c.conn.Close()
		cancel()
		span.End()
		return nil, fmt.Errorf("pipeline start: %w", err)
	}

	for _, t := range forwardedEvents {
		pipe.Bus().Subscribe(t, c.eventCh)
	}
	c.wg.Add(1)
	go c.forwardEvents(callCtx)

	c.wg.Add(1)
	go c.forwardAudio(callCtx)

	if err := orch.Start(callCtx); err != nil {
		c.close()
		return nil, fmt.Errorf("orchestrator start: %w", err)
	}

	if s.config.SessionTimeout > 0 {
		c.timeout = time.AfterFunc(s.config.SessionTimeout, func() {
			log.Printf("[Server] Call %s timed out", c.id)
			c.close()
		})
	}

	return c, nil
}

// forwardEvents delivers bus events to the caller as JSON frames.
func (c *call) forwardEvents(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-c.eventCh:
			c.conn.SendEvent(evt)
		}
	}
}

// forwardAudio streams synthesized chunks to the caller.
func (c *call) forwardAudio(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.ttsRelay.Out():
			if !ok {
				return
			}
			c.conn.SendMessage(msg)
		}
	}
}

// close tears the call down in dependency order: transport reads stop,
// conversation loop flushes its record, then the elements release their
// provider streams.
func (c *call) close() {
	c.closeOnce.Do(func() {
		if c.timeout != nil {
			c.timeout.Stop()
		}
		c.conn.Close()
		c.orch.Stop()
		if err := c.pipe.Stop(); err != nil {
			log.Printf("[Server] Call %s pipeline stop: %v", c.id, err)
		}
		for _, t := range forwardedEvents {
			c.pipe.Bus().Unsubscribe(t, c.eventCh)
		}
		c.cancel()
		c.wg.Wait()
		c.endSpan()
		c.server.unregisterCall(c)
		log.Printf("[Server] Call %s closed", c.id)
	})
}

// callHandler routes inbound transport messages into the pipeline.
type callHandler struct {
	call *call
}

func (h *callHandler) OnStateChange(state connection.State) {
	if state == connection.StateClosed || state == connection.StateFailed {
		go h.call.close()
	}
}

func (h *callHandler) OnMessage(msg *pipeline.PipelineMessage) {
	c := h.call
	msg.SessionID = c.id

	switch msg.Type {
	case pipeline.MsgTypeAudio:
		// Never block the transport read loop on a stalled pipeline.
		select {
		case c.vadElem.In() <- msg:
		default:
			log.Printf("[Server] Call %s inbound audio dropped", c.id)
		}

	case pipeline.MsgTypeCommand:
		switch msg.Command {
		case pipeline.CmdStop:
			// Finalize the utterance and cut any playing response.
			c.asrRelay.In() <- msg
			c.ttsRelay.In() <- &pipeline.PipelineMessage{
				Type:      pipeline.MsgTypeCommand,
				SessionID: c.id,
				Timestamp: msg.Timestamp,
				Command:   pipeline.CmdStop,
			}
		case pipeline.CmdReset:
			c.vadElem.In() <- msg
		}

	case pipeline.MsgTypeData:
		if msg.TextData != nil {
			c.orch.HandleText(string(msg.TextData.Data))
		}
	}
}

func (h *callHandler) OnError(err error) {
	log.Printf("[Server] Call %s transport error: %v", h.call.id, err)
}
