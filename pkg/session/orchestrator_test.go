package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/intent"
	"github.com/voiceline-ai/voiceline/pkg/knowledge"
	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/store"
)

// fakeSpeaker records spoken text. With autoDone it publishes audio.done as
// soon as Speak is called, so the state machine advances without a TTS
// element.
type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	stops    int
	autoDone bool
	bus      pipeline.Bus
}

func (s *fakeSpeaker) Speak(ctx context.Context, sessionID, text string) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	auto := s.autoDone
	s.mu.Unlock()
	if auto {
		s.bus.Publish(pipeline.Event{
			Type:      pipeline.EventAudioDone,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload:   pipeline.AudioDonePayload{Chunks: 2, FirstChunkMs: 40},
		})
	}
}

func (s *fakeSpeaker) StopSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func (s *fakeSpeaker) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits int
}

func (c *fakeCommitter) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return nil
}

func (c *fakeCommitter) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

type fixedRetriever struct {
	score float32
}

func (r *fixedRetriever) Retrieve(ctx context.Context, tenantID, query string, limit int) ([]knowledge.Document, error) {
	return []knowledge.Document{{ID: "d1", Content: "opening hours are 9 to 5", Score: r.score}}, nil
}

func bookingSchemas() []intent.Schema {
	return []intent.Schema{{
		Name:        "book_appointment",
		Version:     1,
		Description: "Book an appointment for a service",
		Parameters: map[string]intent.Property{
			"service": {Type: "string", Description: "requested service"},
			"date":    {Type: "string", Description: "requested date"},
			"time":    {Type: "string", Description: "requested time"},
		},
		Required:            []string{"service", "date"},
		Priority:            10,
		ConfidenceThreshold: 0.7,
		FallbackAction:      "clarify",
		Active:              true,
	}}
}

type fixture struct {
	orch      *Orchestrator
	extractor *intent.MockExtractor
	speaker   *fakeSpeaker
	committer *fakeCommitter
	store     *store.MemoryStore
	bus       pipeline.Bus
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	bus := pipeline.NewEventBus()
	speaker := &fakeSpeaker{autoDone: true, bus: bus}
	committer := &fakeCommitter{}
	extractor := intent.NewMockExtractor()
	mem := store.NewMemoryStore()

	tenant := &store.Tenant{
		ID:              "tenant-1",
		Name:            "Bella Salon",
		BusinessContext: "A hair salon open 9 to 5.",
		Personality:     "warm and concise",
		Greeting:        "",
	}
	mem.PutTenant(tenant)

	cfg := config.Default()
	cfg.Fallback.ConfidenceThreshold = 0.55
	cfg.Fallback.MaxInvalidAttempts = 3
	cfg.Fallback.RAGThreshold = 0.3

	opts := Options{
		CallID:    "call-1",
		Tenant:    tenant,
		Config:    cfg,
		Schemas:   bookingSchemas(),
		Extractor: extractor,
		Store:     mem,
		Bus:       bus,
		Speaker:   speaker,
		Committer: committer,
	}
	if mutate != nil {
		mutate(&opts)
	}

	orch, err := NewOrchestrator(opts)
	require.NoError(t, err)

	return &fixture{orch: orch, extractor: extractor, speaker: speaker, committer: committer, store: mem, bus: bus}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)
}

func structuredResult(name string, entities map[string]any, confidence float64) *intent.Result {
	return &intent.Result{
		Intent:     name,
		Entities:   entities,
		Valid:      true,
		Confidence: confidence,
	}
}

func invalidTestResult() *intent.Result {
	return &intent.Result{
		Valid:        false,
		Confidence:   0,
		ResponseText: "Sorry, could you repeat that?",
	}
}

func fallbackTestResult(text string) *intent.Result {
	return &intent.Result{
		Intent:       "general_inquiry",
		Entities:     map[string]any{},
		Valid:        true,
		Confidence:   0.8,
		ResponseText: text,
		Fallback:     true,
	}
}

func TestOrchestrator_SpeaksGreetingThenListens(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Tenant.Greeting = "Thanks for calling Bella Salon, how can I help?"
	})
	f.start(t)

	require.Eventually(t, func() bool {
		spoken := f.speaker.Spoken()
		return len(spoken) == 1 && spoken[0] == "Thanks for calling Bella Salon, how can I help?"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateListening
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_BookingCreatedWhenRequiredSlotsFilled(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.Script(structuredResult("book_appointment", map[string]any{
		"service": "haircut",
		"date":    "tomorrow",
		"time":    "10am",
	}, 0.7), nil)
	f.start(t)

	f.orch.HandleText("I'd like to book a haircut tomorrow at 10am")

	require.Eventually(t, func() bool {
		return len(f.store.Bookings()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	booking := f.store.Bookings()[0]
	assert.Equal(t, "haircut", booking.Service)
	assert.Equal(t, "tomorrow", booking.Date)
	assert.Equal(t, "10am", booking.Time)
	assert.Equal(t, f.orch.CallID(), booking.CallID)

	spoken := f.speaker.Spoken()
	require.NotEmpty(t, spoken)
	assert.Contains(t, spoken[len(spoken)-1], "haircut")

	// Intent collection state is cleared once the booking lands.
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().ActiveIntent == ""
	}, 2*time.Second, 10*time.Millisecond)

	f.orch.Stop()
	record, ok := f.store.GetCallMetrics(f.orch.CallID())
	require.True(t, ok)
	assert.True(t, record.IntentRecognized)
	assert.False(t, record.Escalated)
}

func TestOrchestrator_MultiTurnSlotFilling(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.Script(structuredResult("book_appointment", map[string]any{"service": "haircut"}, 0.7), nil)
	f.extractor.Script(structuredResult("book_appointment", map[string]any{"date": "friday"}, 0.7), nil)
	f.start(t)

	f.orch.HandleText("I need a haircut")
	require.Eventually(t, func() bool {
		return f.extractor.Calls() == 1 && f.orch.Snapshot().State == StateListening
	}, 2*time.Second, 10*time.Millisecond)

	// Missing date keeps the intent active and prompts for the slot.
	assert.Equal(t, "book_appointment", f.orch.Snapshot().ActiveIntent)
	spoken := f.speaker.Spoken()
	require.NotEmpty(t, spoken)
	assert.Contains(t, spoken[len(spoken)-1], "date")

	f.orch.HandleText("this friday please")
	require.Eventually(t, func() bool {
		return len(f.store.Bookings()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The second extraction is constrained to the active intent.
	reqs := f.extractor.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].ForceIntent)
	assert.Equal(t, "book_appointment", reqs[1].ForceIntent)

	booking := f.store.Bookings()[0]
	assert.Equal(t, "haircut", booking.Service)
	assert.Equal(t, "friday", booking.Date)
}

func TestOrchestrator_EscalatesAfterMaxInvalidAttempts(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.extractor.Script(invalidTestResult(), nil)
	}
	f.start(t)

	escalations := make(chan pipeline.Event, 4)
	f.bus.Subscribe(pipeline.EventEscalate, escalations)

	for i := 0; i < 4; i++ {
		f.orch.HandleText("mumble mumble")
		require.Eventually(t, func() bool {
			st := f.orch.Snapshot().State
			return st == StateListening || st == StateEscalated
		}, 2*time.Second, 10*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateEscalated
	}, 2*time.Second, 10*time.Millisecond)

	// The fourth turn escalates before another extraction happens.
	assert.Equal(t, 3, f.extractor.Calls())

	select {
	case evt := <-escalations:
		payload := evt.Payload.(pipeline.EscalatePayload)
		assert.Equal(t, "max_invalid_attempts", payload.Reason)
		assert.Equal(t, "transfer_human", payload.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no escalate event published")
	}

	f.orch.Stop()
	record, ok := f.store.GetCallMetrics(f.orch.CallID())
	require.True(t, ok)
	assert.True(t, record.Escalated)
	assert.Equal(t, "max_invalid_attempts", record.EscalationReason)
	assert.Equal(t, 3, record.InvalidAttempts)
}

func TestOrchestrator_RecoveryBeforeLimitDoesNotEscalate(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.Script(invalidTestResult(), nil)
	f.extractor.Script(invalidTestResult(), nil)
	f.extractor.Script(fallbackTestResult("We're open nine to five."), nil)
	f.start(t)

	for i := 0; i < 3; i++ {
		f.orch.HandleText("what are your hours")
		require.Eventually(t, func() bool {
			return f.orch.Snapshot().State == StateListening
		}, 2*time.Second, 10*time.Millisecond)
	}

	assert.Equal(t, 3, f.extractor.Calls())
	assert.NotEqual(t, StateEscalated, f.orch.Snapshot().State)
	assert.Equal(t, 0, f.orch.Snapshot().InvalidAttempts)
	assert.InDelta(t, 0.8, f.orch.Snapshot().Confidence, 0.001)
}

func TestOrchestrator_ExtractionErrorCountsAsInvalidAttempt(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.Script(nil, errors.New("upstream timeout"))
	f.start(t)

	f.orch.HandleText("book me in")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().InvalidAttempts == 1
	}, 2*time.Second, 10*time.Millisecond)

	spoken := f.speaker.Spoken()
	require.NotEmpty(t, spoken)
	assert.Contains(t, spoken[len(spoken)-1], "didn't quite catch")
}

func TestOrchestrator_LowKnowledgeScoreEscalates(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Retriever = &fixedRetriever{score: 0.1}
	})
	f.extractor.Script(fallbackTestResult("Let me check."), nil)
	f.start(t)

	// First turn retrieves with a poor best hit; the second turn's
	// predicate sees it.
	f.orch.HandleText("do you service vintage typewriters")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateListening
	}, 2*time.Second, 10*time.Millisecond)

	f.orch.HandleText("hello?")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateEscalated
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.extractor.Calls())
}

func TestOrchestrator_BargeInStopsPlayback(t *testing.T) {
	f := newFixture(t, nil)
	f.speaker.autoDone = false
	f.extractor.Script(fallbackTestResult("Here is a very long answer about our services."), nil)
	f.start(t)

	f.orch.HandleText("tell me everything")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateResponding
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(pipeline.Event{
		Type:      pipeline.EventVADSpeechStart,
		SessionID: f.orch.CallID(),
		Timestamp: time.Now(),
		Payload:   pipeline.VADPayload{Confidence: 0.9, Action: "stop_tts", BargeInCount: 1},
	})

	require.Eventually(t, func() bool {
		return f.speaker.Stops() > 0 && f.orch.Snapshot().State == StateListening
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.orch.Snapshot().BargeInCount)
}

func TestOrchestrator_QueuesTranscriptsWhileResponding(t *testing.T) {
	f := newFixture(t, nil)
	f.speaker.autoDone = false
	f.extractor.Script(fallbackTestResult("first answer"), nil)
	f.extractor.Script(fallbackTestResult("second answer"), nil)
	f.start(t)

	f.orch.HandleText("first question")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateResponding
	}, 2*time.Second, 10*time.Millisecond)

	// Arrives mid-response; must wait its turn.
	f.orch.HandleText("second question")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.extractor.Calls())

	f.bus.Publish(pipeline.Event{
		Type:      pipeline.EventAudioDone,
		SessionID: f.orch.CallID(),
		Timestamp: time.Now(),
		Payload:   pipeline.AudioDonePayload{Chunks: 3, FirstChunkMs: 55},
	})

	require.Eventually(t, func() bool {
		return f.extractor.Calls() == 2
	}, 2*time.Second, 10*time.Millisecond)
	reqs := f.extractor.Requests()
	assert.Equal(t, "first question", reqs[0].Transcript)
	assert.Equal(t, "second question", reqs[1].Transcript)
}

func TestOrchestrator_SpeechEndCommitsUtterance(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.bus.Publish(pipeline.Event{
		Type:      pipeline.EventVADSpeechEnd,
		SessionID: f.orch.CallID(),
		Timestamp: time.Now(),
		Payload:   pipeline.VADPayload{},
	})

	require.Eventually(t, func() bool {
		return f.committer.Commits() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_StopIsIdempotentAndFinalizesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.Script(fallbackTestResult("hi"), nil)
	f.start(t)

	f.orch.HandleText("hi")
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().State == StateListening
	}, 2*time.Second, 10*time.Millisecond)

	f.orch.Stop()
	f.orch.Stop()

	record, ok := f.store.GetCallMetrics(f.orch.CallID())
	require.True(t, ok)
	assert.Equal(t, StateCompleted, f.orch.Snapshot().State)
	assert.False(t, record.EndedAt.IsZero())
	// TTS first-chunk latency from the done event, LLM latency from the
	// extraction call; total is the sum of stage means.
	assert.InDelta(t, record.ASRLatencyMs+record.LLMLatencyMs+record.TTSLatencyMs, record.TotalLatencyMs, 0.001)
}

func TestSession_MergeEntitiesLastWriteWins(t *testing.T) {
	sess := NewCallSession("c1", "t1")
	sess.MergeEntities(map[string]any{"a": 1})
	sess.MergeEntities(map[string]any{"a": 2, "b": 3})
	assert.Equal(t, map[string]any{"a": 2, "b": 3}, sess.PartialEntities)
}

func TestLatencyTracker_TotalIsSumOfStageMeans(t *testing.T) {
	var tr LatencyTracker
	tr.AddASR(100)
	tr.AddASR(300)
	tr.AddLLM(400)
	tr.AddTTS(50)
	tr.AddTTS(150)

	assert.InDelta(t, 200, tr.ASRMean(), 0.001)
	assert.InDelta(t, 400, tr.LLMMean(), 0.001)
	assert.InDelta(t, 100, tr.TTSMean(), 0.001)
	assert.InDelta(t, 700, tr.TotalMean(), 0.001)
}

func TestLatencyTracker_EmptyStagesContributeZero(t *testing.T) {
	var tr LatencyTracker
	tr.AddLLM(250)
	assert.InDelta(t, 250, tr.TotalMean(), 0.001)
}
