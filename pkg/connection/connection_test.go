package connection

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceline-ai/voiceline/pkg/pipeline"
)

func TestDecodeInbound_AudioFrame(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	frame, err := json.Marshal(Envelope{
		Type:     "audio",
		Data:     base64.StdEncoding.EncodeToString(pcm),
		Sequence: 7,
	})
	require.NoError(t, err)

	msg, err := DecodeInbound(frame, 16000, 1)
	require.NoError(t, err)
	assert.Equal(t, pipeline.MsgTypeAudio, msg.Type)
	assert.Equal(t, pcm, msg.AudioData.Data)
	assert.Equal(t, int64(7), msg.AudioData.Sequence)
	assert.Equal(t, 16000, msg.AudioData.SampleRate)
}

func TestDecodeInbound_ControlFrames(t *testing.T) {
	stop, err := DecodeInbound([]byte(`{"type":"stop"}`), 16000, 1)
	require.NoError(t, err)
	assert.Equal(t, pipeline.MsgTypeCommand, stop.Type)
	assert.Equal(t, pipeline.CmdStop, stop.Command)

	reset, err := DecodeInbound([]byte(`{"type":"reset"}`), 16000, 1)
	require.NoError(t, err)
	assert.Equal(t, pipeline.CmdReset, reset.Command)
}

func TestDecodeInbound_TextFrame(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"text","text":"book a haircut"}`), 16000, 1)
	require.NoError(t, err)
	assert.Equal(t, pipeline.MsgTypeData, msg.Type)
	assert.Equal(t, "book a haircut", string(msg.TextData.Data))
}

func TestDecodeInbound_Rejects(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"ring"}`), 16000, 1)
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`not json`), 16000, 1)
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"type":"audio","data":"%%%"}`), 16000, 1)
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"type":"text"}`), 16000, 1)
	assert.Error(t, err)
}

func TestEncodeEvent_WireNamesAndPayloads(t *testing.T) {
	frame, err := EncodeEvent(pipeline.Event{
		Type:    pipeline.EventTranscriptFinal,
		Payload: pipeline.TranscriptPayload{Text: "hello", Confidence: 0.92, Sequence: 3, LatencyMs: 180},
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "transcript.final", env.Type)
	assert.Equal(t, "hello", env.Text)
	assert.Equal(t, int64(3), env.Sequence)
	assert.InDelta(t, 180, env.LatencyMs, 0.001)

	frame, err = EncodeEvent(pipeline.Event{
		Type:    pipeline.EventEscalate,
		Payload: pipeline.EscalatePayload{Reason: "max_invalid_attempts", Action: "transfer_human"},
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "escalate", env.Type)
	assert.Equal(t, "max_invalid_attempts", env.Reason)
	assert.Equal(t, "transfer_human", env.Action)
}

func TestEncodeAudioChunk(t *testing.T) {
	frame, err := EncodeAudioChunk([]byte{0xAA, 0xBB}, 12)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "audio.chunk", env.Type)
	assert.Equal(t, int64(12), env.Sequence)

	decoded, err := base64.StdEncoding.DecodeString(env.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, decoded)
}
