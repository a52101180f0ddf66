package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceline-ai/voiceline/pkg/asr"
	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/connection"
	"github.com/voiceline-ai/voiceline/pkg/intent"
	"github.com/voiceline-ai/voiceline/pkg/store"
	"github.com/voiceline-ai/voiceline/pkg/tts"
)

type testEnv struct {
	server    *Server
	http      *httptest.Server
	store     *store.MemoryStore
	extractor *intent.MockExtractor
	asr       *asr.MockProvider
	tts       *tts.MockProvider
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	mem.PutTenant(&store.Tenant{
		ID:       "tenant-1",
		Name:     "Bella Salon",
		Greeting: "Thanks for calling Bella Salon.",
	})
	mem.PutIntentSchemas("tenant-1", []intent.Schema{{
		Name:                "book_appointment",
		Version:             1,
		Description:         "Book an appointment",
		Parameters:          map[string]intent.Property{"service": {Type: "string"}, "date": {Type: "string"}},
		Required:            []string{"service", "date"},
		Priority:            10,
		ConfidenceThreshold: 0.7,
		Active:              true,
	}})

	extractor := intent.NewMockExtractor()
	asrProvider := asr.NewMockProvider()
	ttsProvider := tts.NewMockProvider()

	cfg := DefaultConfig()
	cfg.SessionTimeout = 0
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, Deps{
		Store:          mem,
		NewASRProvider: func(config.ASRConfig) (asr.Provider, error) { return asrProvider, nil },
		NewTTSProvider: func(config.TTSConfig) (tts.StreamingProvider, error) { return ttsProvider, nil },
		NewExtractor:   func(config.LLMConfig) (intent.Extractor, error) { return extractor, nil },
	})
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, http: ts, store: mem, extractor: extractor, asr: asrProvider, tts: ttsProvider}
}

func (e *testEnv) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp
}

func readFrames(t *testing.T, conn *websocket.Conn, want func(map[string]int) bool) map[string]int {
	t.Helper()
	seen := map[string]int{}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !want(seen) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "frames so far: %v", seen)
		var env connection.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		seen[env.Type]++
	}
	return seen
}

func TestServer_RejectsMissingTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.http.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AuthToken = "secret" })

	_, resp := env.dial(t, "tenant=tenant-1", http.Header{"Authorization": {"Bearer wrong"}})
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _ := env.dial(t, "tenant=tenant-1", http.Header{"Authorization": {"Bearer secret"}})
	require.NotNil(t, conn)
}

func TestServer_UnknownTenantFailsSetup(t *testing.T) {
	env := newTestEnv(t, nil)
	conn, _ := env.dial(t, "tenant=nobody", nil)
	require.NotNil(t, conn)

	// Setup failure arrives as an error frame before the close.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env2 connection.Envelope
	require.NoError(t, json.Unmarshal(data, &env2))
	assert.Equal(t, "error", env2.Type)
}

func TestServer_GreetingStreamsAudioToCaller(t *testing.T) {
	env := newTestEnv(t, nil)
	conn, _ := env.dial(t, "tenant=tenant-1", nil)
	require.NotNil(t, conn)

	seen := readFrames(t, conn, func(seen map[string]int) bool {
		return seen["audio.done"] > 0
	})
	assert.GreaterOrEqual(t, seen["audio.chunk"], 1)

	reqs := env.tts.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "Thanks for calling Bella Salon.", reqs[0].Text)
}

func TestServer_TextTurnReachesExtractor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.extractor.Script(&intent.Result{
		Intent:       "general_inquiry",
		Entities:     map[string]any{},
		Valid:        true,
		Confidence:   0.8,
		ResponseText: "We are open nine to five.",
		Fallback:     true,
	}, nil)

	conn, _ := env.dial(t, "tenant=tenant-1", nil)
	require.NotNil(t, conn)

	// Wait out the greeting so the turn is not queued behind it.
	readFrames(t, conn, func(seen map[string]int) bool { return seen["audio.done"] > 0 })

	require.NoError(t, conn.WriteJSON(connection.Envelope{Type: "text", Text: "what are your hours"}))

	require.Eventually(t, func() bool {
		return env.extractor.Calls() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "what are your hours", env.extractor.Requests()[0].Transcript)

	// The reply is synthesized and streamed back.
	readFrames(t, conn, func(seen map[string]int) bool { return seen["audio.done"] > 0 })
}

func TestServer_CallUnregisteredOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	conn, _ := env.dial(t, "tenant=tenant-1", nil)
	require.NotNil(t, conn)

	require.Eventually(t, func() bool {
		return env.server.ActiveCalls() == 1
	}, 3*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return env.server.ActiveCalls() == 0
	}, 3*time.Second, 10*time.Millisecond)

	ids := env.store.CallIDs()
	require.Len(t, ids, 1)
	record, ok := env.store.GetCallMetrics(ids[0])
	require.True(t, ok)
	assert.False(t, record.EndedAt.IsZero())
}
