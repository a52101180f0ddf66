package elements

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/pipeline"
	"github.com/voiceline-ai/voiceline/pkg/vad"
)

// VADElement runs energy-based voice activity detection over the inbound
// audio stream. All audio passes through unchanged; speech boundaries are
// published on the bus. A speech start while the agent is speaking is the
// barge-in signal the orchestrator acts on.
type VADElement struct {
	*pipeline.BaseElement

	detector *vad.Detector
	enabled  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateLock sync.Mutex
}

// NewVADElement creates a VAD element. The config must already be validated.
func NewVADElement(cfg vad.DetectorConfig, enabled bool) (*VADElement, error) {
	elem := &VADElement{
		BaseElement: pipeline.NewBaseElement("vad-element", 100),
		detector:    vad.NewDetector(cfg),
		enabled:     enabled,
	}

	props := []pipeline.PropertyDesc{
		{
			Name:     "threshold",
			Type:     reflect.TypeOf(float64(0)),
			Writable: false,
			Readable: true,
			Default:  cfg.Threshold,
		},
		{
			Name:     "silence-duration-ms",
			Type:     reflect.TypeOf(int(0)),
			Writable: false,
			Readable: true,
			Default:  cfg.SilenceDurationMs,
		},
		{
			Name:     "enabled",
			Type:     reflect.TypeOf(bool(false)),
			Writable: false,
			Readable: true,
			Default:  enabled,
		},
	}
	for _, prop := range props {
		if err := elem.RegisterProperty(prop); err != nil {
			return nil, err
		}
	}

	return elem, nil
}

func (e *VADElement) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.processAudio(ctx)
	}()

	return nil
}

func (e *VADElement) Stop() error {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}
	return nil
}

func (e *VADElement) processAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.BaseElement.InChan:
			if !ok {
				return
			}

			if msg.Type == pipeline.MsgTypeCommand && msg.Command == pipeline.CmdReset {
				e.stateLock.Lock()
				e.detector.Reset()
				e.stateLock.Unlock()
				continue
			}

			if msg.Type != pipeline.MsgTypeAudio || msg.AudioData == nil || len(msg.AudioData.Data) == 0 {
				continue
			}

			if e.enabled {
				e.stateLock.Lock()
				evt := e.detector.ProcessFrame(msg.AudioData.Data)
				e.stateLock.Unlock()
				if evt != nil {
					e.publishEvent(msg.SessionID, evt)
				}
			}

			// Audio always passes through; downstream ASR decides what to
			// do with silence.
			select {
			case e.BaseElement.OutChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *VADElement) publishEvent(sessionID string, evt *vad.Event) {
	if e.Bus() == nil {
		return
	}

	switch evt.Kind {
	case vad.EventSpeechStart:
		log.Printf("[VAD] Speech started (confidence: %.2f, run: %d)", evt.Confidence, evt.BargeInCount)
		e.Bus().Publish(pipeline.Event{
			Type:      pipeline.EventVADSpeechStart,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload: pipeline.VADPayload{
				Confidence:   evt.Confidence,
				Action:       "stop_tts",
				BargeInCount: evt.BargeInCount,
				Timestamp:    evt.Timestamp,
			},
		})
	case vad.EventSpeechEnd:
		log.Printf("[VAD] Speech ended")
		e.Bus().Publish(pipeline.Event{
			Type:      pipeline.EventVADSpeechEnd,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload: pipeline.VADPayload{
				Timestamp: evt.Timestamp,
			},
		})
	}
}

// Speaking reports whether the detector is inside a speech run.
func (e *VADElement) Speaking() bool {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.detector.Speaking()
}

// PreRoll returns the prefix-padding audio buffered before the current
// moment.
func (e *VADElement) PreRoll() []byte {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.detector.PreRoll()
}

var _ pipeline.Element = (*VADElement)(nil)
