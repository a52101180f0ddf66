package elements

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/vad"
)

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

func audioMsg(sessionID string, data []byte) *pipeline.PipelineMessage {
	return &pipeline.PipelineMessage{
		Type:      pipeline.MsgTypeAudio,
		SessionID: sessionID,
		Timestamp: time.Now(),
		AudioData: &pipeline.AudioData{
			Data:       data,
			SampleRate: 16000,
			Channels:   1,
			MediaType:  pipeline.AudioMediaTypeRaw,
		},
	}
}

func TestVADElement_PublishesSpeechEventsAndPassesAudioThrough(t *testing.T) {
	elem, err := NewVADElement(vad.DetectorConfig{
		SampleRate:        16000,
		Threshold:         0.02,
		SilenceDurationMs: 100,
	}, true)
	require.NoError(t, err)

	bus := pipeline.NewEventBus()
	elem.SetBus(bus)

	events := make(chan pipeline.Event, 16)
	bus.Subscribe(pipeline.EventVADSpeechStart, events)
	bus.Subscribe(pipeline.EventVADSpeechEnd, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, elem.Start(ctx))
	defer elem.Stop()

	// 20ms frames at 16kHz. Loud frames trigger speech, quiet frames end it.
	loud := pcmFrame(8000, 320)
	quiet := pcmFrame(0, 320)

	for i := 0; i < 5; i++ {
		elem.In() <- audioMsg("call-1", loud)
	}
	for i := 0; i < 10; i++ {
		elem.In() <- audioMsg("call-1", quiet)
	}

	var got []pipeline.Event
	var passed int
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case evt := <-events:
			got = append(got, evt)
		case <-elem.Out():
			passed++
		case <-deadline:
			t.Fatalf("expected 2 VAD events, got %d", len(got))
		}
	}

	assert.Equal(t, pipeline.EventVADSpeechStart, got[0].Type)
	assert.Equal(t, pipeline.EventVADSpeechEnd, got[1].Type)

	payload, ok := got[0].Payload.(pipeline.VADPayload)
	require.True(t, ok)
	assert.Equal(t, "stop_tts", payload.Action)
	assert.Equal(t, 1, payload.BargeInCount)

	// All 15 frames must pass through regardless of speech state.
	drainDeadline := time.After(2 * time.Second)
	for passed < 15 {
		select {
		case <-elem.Out():
			passed++
		case <-drainDeadline:
			t.Fatalf("expected 15 passthrough frames, got %d", passed)
		}
	}
}

func TestVADElement_DisabledStillPassesAudio(t *testing.T) {
	elem, err := NewVADElement(vad.DetectorConfig{
		SampleRate:        16000,
		Threshold:         0.02,
		SilenceDurationMs: 100,
	}, false)
	require.NoError(t, err)

	bus := pipeline.NewEventBus()
	elem.SetBus(bus)

	events := make(chan pipeline.Event, 16)
	bus.Subscribe(pipeline.EventVADSpeechStart, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, elem.Start(ctx))
	defer elem.Stop()

	elem.In() <- audioMsg("call-1", pcmFrame(8000, 320))

	select {
	case <-elem.Out():
	case <-time.After(time.Second):
		t.Fatal("audio did not pass through")
	}

	select {
	case evt := <-events:
		t.Fatalf("unexpected event with VAD disabled: %v", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
