package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/intent"
	"github.com/voiceline-ai/voiceline/pkg/knowledge"
	"github.com/voiceline-ai/voiceline/pkg/metrics"
	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/store"
)

const (
	// retryPrompt is spoken when intent extraction produced nothing usable,
	// including provider transport failures.
	retryPrompt = "Sorry, I didn't quite catch that. Could you say it another way?"

	// escalationNotice is the last agent utterance before handoff.
	escalationNotice = "Let me connect you with a member of our team who can help you further."

	// BookAppointmentIntent triggers the booking side effect on completion.
	BookAppointmentIntent = "book_appointment"

	historyWindow = 12
	knowledgeTopK = 3

	mailboxSize = 64
)

// Speaker plays a synthesized response to the caller. Satisfied by the TTS
// relay element.
type Speaker interface {
	Speak(ctx context.Context, sessionID, text string)
	StopSpeaking()
}

// Committer finalizes the in-flight recognition utterance. Satisfied by the
// ASR relay element.
type Committer interface {
	Commit(ctx context.Context) error
}

// Options wires one call's orchestrator.
type Options struct {
	CallID string
	Tenant *store.Tenant
	Config *config.PipelineConfig

	Schemas   []intent.Schema
	Extractor intent.Extractor

	// Retriever is optional. Without one no knowledge grounding happens and
	// the retrieval score never drives escalation.
	Retriever knowledge.Retriever

	Store store.Store
	Bus   pipeline.Bus

	Speaker   Speaker
	Committer Committer
}

// Orchestrator is the per-call actor. It consumes bus events through a
// mailbox and drives the conversation state machine; all session state is
// confined to its run goroutine.
type Orchestrator struct {
	opts Options

	// mu guards session and the turn bookkeeping against Snapshot readers.
	mu      sync.Mutex
	session *CallSession

	inbox  chan pipeline.Event
	queued []queuedTranscript

	intentRecognized bool
	escalated        bool
	escalationReason string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type queuedTranscript struct {
	text      string
	latencyMs float64
}

// NewOrchestrator builds the actor. Start must be called before it does
// anything.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Tenant == nil || opts.Config == nil {
		return nil, fmt.Errorf("orchestrator requires tenant and pipeline config")
	}
	if opts.Extractor == nil || opts.Speaker == nil || opts.Bus == nil {
		return nil, fmt.Errorf("orchestrator requires extractor, speaker and bus")
	}
	callID := opts.CallID
	if callID == "" {
		callID = uuid.New().String()
	}
	opts.CallID = callID

	sess := NewCallSession(callID, opts.Tenant.ID)
	// Optimistic until the first turn produces real measurements, so the
	// escalation predicate cannot fire before the model has spoken once.
	sess.Confidence = 1
	sess.RAGScore = 1

	return &Orchestrator{
		opts:    opts,
		session: sess,
		inbox:   make(chan pipeline.Event, mailboxSize),
	}, nil
}

// CallID returns the call's identifier.
func (o *Orchestrator) CallID() string {
	return o.session.ID
}

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot() CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := *o.session
	snap.History = append([]Turn(nil), o.session.History...)
	snap.PartialEntities = make(map[string]any, len(o.session.PartialEntities))
	for k, v := range o.session.PartialEntities {
		snap.PartialEntities[k] = v
	}
	return snap
}

// Start subscribes to the bus, opens the call record and speaks the
// greeting.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.ctx = ctx
	o.cancel = cancel

	for _, t := range o.subscribedEvents() {
		o.opts.Bus.Subscribe(t, o.inbox)
	}

	o.persist(func() error {
		return o.opts.Store.CreateCallMetrics(ctx, &store.CallMetrics{
			CallID:    o.session.ID,
			TenantID:  o.session.TenantID,
			StartedAt: o.session.StartedAt,
		})
	})
	metrics.AddGauge(metrics.CallsActive, 1)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx)
	}()

	o.mu.Lock()
	defer o.mu.Unlock()
	if greeting := o.opts.Tenant.Greeting; greeting != "" {
		log.Printf("[Orchestrator] Call %s greeting", o.session.ID)
		o.session.AppendTurn("agent", greeting)
		o.opts.Speaker.Speak(ctx, o.session.ID, greeting)
	} else {
		o.session.State = StateListening
	}
	return nil
}

// Stop tears the call down: conversation loop first, then one metrics
// flush. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
			o.wg.Wait()
		}
		for _, t := range o.subscribedEvents() {
			o.opts.Bus.Unsubscribe(t, o.inbox)
		}
		o.opts.Speaker.StopSpeaking()

		o.mu.Lock()
		if !o.session.State.Terminal() {
			o.session.State = StateCompleted
		}
		o.mu.Unlock()
		o.finalize()

		outcome := "completed"
		if o.escalated {
			outcome = "escalated"
		}
		metrics.AddGauge(metrics.CallsActive, -1)
		metrics.IncCounter(metrics.CallsTotal, o.session.TenantID, outcome)
		metrics.ObserveHistogram(metrics.CallDuration, time.Since(o.session.StartedAt).Seconds(), o.session.TenantID)
		log.Printf("[Orchestrator] Call %s ended (%s) after %d turns", o.session.ID, outcome, len(o.session.History))
	})
}

// HandleText injects caller text that arrived outside the audio path, e.g.
// the transport's text message. It flows through the same turn handling as a
// final transcript.
func (o *Orchestrator) HandleText(text string) {
	if text == "" {
		return
	}
	select {
	case o.inbox <- pipeline.Event{
		Type:      pipeline.EventTranscriptFinal,
		SessionID: o.session.ID,
		Timestamp: time.Now(),
		Payload:   pipeline.TranscriptPayload{Text: text, IsFinal: true},
	}:
	default:
		log.Printf("[Orchestrator] Call %s mailbox full, text dropped", o.session.ID)
	}
}

func (o *Orchestrator) subscribedEvents() []pipeline.EventType {
	return []pipeline.EventType{
		pipeline.EventTranscriptPartial,
		pipeline.EventTranscriptFinal,
		pipeline.EventVADSpeechStart,
		pipeline.EventVADSpeechEnd,
		pipeline.EventAudioDone,
		pipeline.EventAudioStopped,
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-o.inbox:
			o.handleEvent(ctx, evt)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, evt pipeline.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch evt.Type {
	case pipeline.EventTranscriptPartial:
		metrics.IncCounter(metrics.TranscriptsTotal, o.session.TenantID, "partial")

	case pipeline.EventTranscriptFinal:
		metrics.IncCounter(metrics.TranscriptsTotal, o.session.TenantID, "final")
		payload, ok := evt.Payload.(pipeline.TranscriptPayload)
		if !ok || strings.TrimSpace(payload.Text) == "" {
			return
		}
		o.onFinalTranscript(ctx, payload.Text, payload.LatencyMs)

	case pipeline.EventVADSpeechStart:
		o.onSpeechStart(evt)

	case pipeline.EventVADSpeechEnd:
		if o.opts.Committer != nil {
			if err := o.opts.Committer.Commit(ctx); err != nil {
				log.Printf("[Orchestrator] Call %s commit failed: %v", o.session.ID, err)
			}
		}

	case pipeline.EventAudioDone, pipeline.EventAudioStopped:
		o.onResponseFinished(ctx, evt)
	}
}

func (o *Orchestrator) onFinalTranscript(ctx context.Context, text string, latencyMs float64) {
	switch o.session.State {
	case StateEscalated, StateCompleted:
		return
	case StateGreeting, StateProcessing, StateResponding:
		// A turn is in flight; keep arrival order.
		o.queued = append(o.queued, queuedTranscript{text: text, latencyMs: latencyMs})
		return
	}
	o.processTurn(ctx, text, latencyMs)
}

func (o *Orchestrator) onSpeechStart(evt pipeline.Event) {
	if o.session.State != StateResponding && o.session.State != StateGreeting {
		return
	}
	// Caller interrupted the agent. Stop playback now; the stopped event
	// settles latency accounting.
	o.session.BargeInCount++
	metrics.IncCounter(metrics.BargeInsTotal, o.session.TenantID)
	log.Printf("[Orchestrator] Call %s barge-in #%d", o.session.ID, o.session.BargeInCount)
	o.opts.Speaker.StopSpeaking()
	o.session.State = StateListening
}

func (o *Orchestrator) onResponseFinished(ctx context.Context, evt pipeline.Event) {
	if payload, ok := evt.Payload.(pipeline.AudioDonePayload); ok && payload.FirstChunkMs > 0 {
		o.session.Latency.AddTTS(payload.FirstChunkMs)
		metrics.ObserveStageLatency(metrics.TTSLatency, o.session.TenantID, payload.FirstChunkMs)
	}
	if o.session.State == StateResponding || o.session.State == StateGreeting {
		o.session.State = StateListening
	}
	o.drainQueued(ctx)
}

func (o *Orchestrator) drainQueued(ctx context.Context) {
	if o.session.State != StateListening || len(o.queued) == 0 {
		return
	}
	next := o.queued[0]
	o.queued = o.queued[1:]
	o.processTurn(ctx, next.text, next.latencyMs)
}

// processTurn runs one conversation turn to the point where the response is
// streaming. The escalation predicate runs before the model call, on the
// previous turn's measurements, so a doomed conversation never burns another
// extraction.
func (o *Orchestrator) processTurn(ctx context.Context, text string, asrLatencyMs float64) {
	o.session.State = StateProcessing
	o.session.AppendTurn("caller", text)
	metrics.IncCounter(metrics.TurnsTotal, o.session.TenantID)
	if asrLatencyMs > 0 {
		o.session.Latency.AddASR(asrLatencyMs)
		metrics.ObserveStageLatency(metrics.ASRLatency, o.session.TenantID, asrLatencyMs)
	}

	if reason := o.escalationReasonNow(); reason != "" {
		o.escalate(ctx, reason)
		return
	}

	passages := o.retrieveKnowledge(ctx, text)

	req := &intent.Request{
		Transcript:      text,
		Context:         o.session.ContextLines(historyWindow),
		Schemas:         o.opts.Schemas,
		ForceIntent:     o.session.ActiveIntent,
		BusinessContext: o.opts.Tenant.BusinessContext,
		Personality:     o.opts.Tenant.Personality,
		Knowledge:       passages,
	}

	started := time.Now()
	result, err := o.opts.Extractor.Extract(ctx, req)
	llmMs := float64(time.Since(started)) / float64(time.Millisecond)
	o.session.Latency.AddLLM(llmMs)
	metrics.ObserveStageLatency(metrics.LLMLatency, o.session.TenantID, llmMs)

	if err != nil {
		log.Printf("[Orchestrator] Call %s extraction failed: %v", o.session.ID, err)
		o.recordInvalidAttempt(ctx, retryPrompt)
		return
	}
	if !result.Valid {
		o.recordInvalidAttempt(ctx, result.ResponseText)
		return
	}

	o.session.Confidence = result.Confidence
	o.session.InvalidAttempts = 0

	if result.Fallback {
		o.respond(ctx, result.ResponseText)
		return
	}

	o.session.ActiveIntent = result.Intent
	o.session.MergeEntities(result.Entities)

	schema := intent.FindSchema(o.opts.Schemas, result.Intent)
	if schema == nil {
		// Extractor validated against the same schema set; treat as a
		// conversational reply rather than failing the turn.
		o.respond(ctx, result.ResponseText)
		return
	}

	if missing := schema.MissingRequired(o.session.PartialEntities); len(missing) > 0 {
		o.respond(ctx, slotPrompt(missing))
		return
	}

	o.completeIntent(ctx, result, schema)
}

func (o *Orchestrator) recordInvalidAttempt(ctx context.Context, reply string) {
	o.session.InvalidAttempts++
	metrics.IncCounter(metrics.InvalidAttempts, o.session.TenantID)
	if reply == "" {
		reply = retryPrompt
	}
	o.respond(ctx, reply)
}

// completeIntent fires the intent's side effect and confirms it in the same
// turn.
func (o *Orchestrator) completeIntent(ctx context.Context, result *intent.Result, schema *intent.Schema) {
	o.intentRecognized = true

	if schema.Name == BookAppointmentIntent {
		booking := bookingFromEntities(o.session)
		o.persist(func() error {
			return o.opts.Store.CreateBooking(ctx, booking)
		})
		metrics.IncCounter(metrics.BookingsTotal, o.session.TenantID)
		log.Printf("[Orchestrator] Call %s booked %s on %s at %s", o.session.ID, booking.Service, booking.Date, booking.Time)
	}

	reply := result.ResponseText
	if reply == "" {
		reply = confirmation(schema.Name, o.session.PartialEntities)
	}
	o.session.ResetIntent()
	o.respond(ctx, reply)
}

func (o *Orchestrator) respond(ctx context.Context, text string) {
	o.session.AppendTurn("agent", text)
	o.session.State = StateResponding
	o.opts.Speaker.Speak(ctx, o.session.ID, text)
}

// escalationReasonNow evaluates the handoff predicate on current session
// state. Empty string means keep going.
func (o *Orchestrator) escalationReasonNow() string {
	fb := o.opts.Config.Fallback
	switch {
	case o.session.InvalidAttempts >= fb.MaxInvalidAttempts:
		return "max_invalid_attempts"
	case o.session.Confidence < fb.ConfidenceThreshold:
		return "low_confidence"
	case o.session.RAGScore < fb.RAGThreshold:
		return "low_knowledge_score"
	default:
		return ""
	}
}

func (o *Orchestrator) escalate(ctx context.Context, reason string) {
	o.escalated = true
	o.escalationReason = reason
	metrics.IncCounter(metrics.EscalationsTotal, o.session.TenantID, reason)
	log.Printf("[Orchestrator] Call %s escalating: %s", o.session.ID, reason)

	o.opts.Bus.Publish(pipeline.Event{
		Type:      pipeline.EventEscalate,
		SessionID: o.session.ID,
		Timestamp: time.Now(),
		Payload: pipeline.EscalatePayload{
			Reason: reason,
			Action: o.opts.Config.Fallback.EscalationAction,
		},
	})

	o.session.AppendTurn("agent", escalationNotice)
	o.opts.Speaker.Speak(ctx, o.session.ID, escalationNotice)
	o.session.State = StateEscalated
}

func (o *Orchestrator) retrieveKnowledge(ctx context.Context, query string) []string {
	if o.opts.Retriever == nil {
		return nil
	}
	docs, err := o.opts.Retriever.Retrieve(ctx, o.session.TenantID, query, knowledgeTopK)
	if err != nil {
		log.Printf("[Orchestrator] Call %s knowledge retrieval failed: %v", o.session.ID, err)
		return nil
	}
	o.session.RAGScore = knowledge.TopScore(docs)
	passages := make([]string, 0, len(docs))
	for _, d := range docs {
		passages = append(passages, d.Content)
	}
	return passages
}

// persist runs a store write off the critical accounting, retrying once.
// Persistence failures never fail the turn.
func (o *Orchestrator) persist(write func() error) {
	if o.opts.Store == nil {
		return
	}
	err := write()
	if err == nil {
		return
	}
	log.Printf("[Orchestrator] Call %s store write failed, retrying: %v", o.session.ID, err)
	if err = write(); err != nil {
		log.Printf("[Orchestrator] Call %s store write failed: %v", o.session.ID, err)
	}
}

func (o *Orchestrator) finalize() {
	sess := o.session
	o.persist(func() error {
		return o.opts.Store.FinalizeCallMetrics(context.Background(), &store.CallMetrics{
			CallID:           sess.ID,
			TenantID:         sess.TenantID,
			ASRLatencyMs:     sess.Latency.ASRMean(),
			LLMLatencyMs:     sess.Latency.LLMMean(),
			TTSLatencyMs:     sess.Latency.TTSMean(),
			TotalLatencyMs:   sess.Latency.TotalMean(),
			ConfidenceScore:  sess.Confidence,
			InvalidAttempts:  sess.InvalidAttempts,
			BargeInCount:     sess.BargeInCount,
			IntentRecognized: o.intentRecognized,
			Escalated:        o.escalated,
			EscalationReason: o.escalationReason,
			StartedAt:        sess.StartedAt,
			EndedAt:          time.Now(),
		})
	})
}

func bookingFromEntities(sess *CallSession) *store.Booking {
	booking := &store.Booking{
		ID:       uuid.New().String(),
		CallID:   sess.ID,
		TenantID: sess.TenantID,
		Entities: map[string]any{},
	}
	for k, v := range sess.PartialEntities {
		booking.Entities[k] = v
	}
	if s, ok := sess.PartialEntities["service"].(string); ok {
		booking.Service = s
	}
	if d, ok := sess.PartialEntities["date"].(string); ok {
		booking.Date = d
	}
	if t, ok := sess.PartialEntities["time"].(string); ok {
		booking.Time = t
	}
	return booking
}

func slotPrompt(missing []string) string {
	if len(missing) == 1 {
		return fmt.Sprintf("Got it. What %s would you like?", missing[0])
	}
	return fmt.Sprintf("Got it. What %s and %s would you like?",
		strings.Join(missing[:len(missing)-1], ", "), missing[len(missing)-1])
}

func confirmation(intentName string, entities map[string]any) string {
	if intentName == BookAppointmentIntent {
		service, _ := entities["service"].(string)
		date, _ := entities["date"].(string)
		when, _ := entities["time"].(string)
		if service != "" && date != "" {
			if when != "" {
				return fmt.Sprintf("You're booked for a %s on %s at %s. Anything else?", service, date, when)
			}
			return fmt.Sprintf("You're booked for a %s on %s. Anything else?", service, date)
		}
	}
	return "All done. Is there anything else I can help you with?"
}
