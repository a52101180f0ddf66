package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewElevenLabsProvider_Validation(t *testing.T) {
	_, err := NewElevenLabsProvider(ElevenLabsConfig{VoiceID: "voice"})
	assert.Error(t, err, "missing API key should fail")

	_, err = NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key"})
	assert.Error(t, err, "missing voice ID should fail")

	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", VoiceID: "voice"})
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs-ws", p.Name())
	assert.NoError(t, p.ValidateConfig())
}

func TestNewElevenLabsProvider_Defaults(t *testing.T) {
	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", VoiceID: "voice"})
	require.NoError(t, err)

	assert.Equal(t, elevenLabsDefaultModel, p.model)
	assert.Equal(t, 0.5, p.stability)
	assert.Equal(t, 0.75, p.similarityBoost)
	assert.Equal(t, 1.0, p.speed)
}

func TestElevenLabsProvider_VoiceSettingsOverride(t *testing.T) {
	p, err := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:          "key",
		VoiceID:         "voice",
		Stability:       0.6,
		SimilarityBoost: 0.8,
	})
	require.NoError(t, err)

	settings := p.voiceSettings(nil)
	assert.Equal(t, 0.6, settings.Stability)
	assert.Equal(t, 0.8, settings.SimilarityBoost)

	settings = p.voiceSettings(&VoiceSettings{Stability: 0.9})
	assert.Equal(t, 0.9, settings.Stability)
	assert.Equal(t, 0.8, settings.SimilarityBoost, "unset override fields keep provider values")
}

func TestMockProvider_StreamsChunks(t *testing.T) {
	p := NewMockProvider()
	p.Chunks = [][]byte{{1, 2}, {3, 4}, {5, 6}}

	audioChan, errChan := p.StreamSynthesize(context.Background(), &SynthesizeRequest{Text: "hello"})

	var got [][]byte
	for chunk := range audioChan {
		got = append(got, chunk)
	}
	require.NoError(t, <-errChan)
	assert.Len(t, got, 3)
	assert.Equal(t, []byte{1, 2}, got[0])

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hello", reqs[0].Text)
}

func TestMockProvider_CancelStopsStream(t *testing.T) {
	p := NewMockProvider()
	p.Chunks = [][]byte{{1}, {2}, {3}, {4}, {5}}
	p.ChunkDelay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	audioChan, _ := p.StreamSynthesize(ctx, &SynthesizeRequest{Text: "long response"})

	// Take one chunk, then cancel mid-stream.
	<-audioChan
	cancel()

	var rest int
	for range audioChan {
		rest++
	}
	assert.Less(t, rest, 4, "cancellation should stop delivery before all chunks")
}

func TestMockProvider_Error(t *testing.T) {
	p := NewMockProvider()
	p.Err = errors.New("synthesis failed")

	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	assert.Error(t, err)
}
