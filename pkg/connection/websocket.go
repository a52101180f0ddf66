package connection

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceline-ai/voiceline/pkg/metrics"
	"github.com/voiceline-ai/voiceline/pkg/pipeline"
)

const (
	DefaultWSWriteWait  = 10 * time.Second
	DefaultWSPongWait   = 60 * time.Second
	DefaultWSPingPeriod = 54 * time.Second // Must be less than pongWait
)

// WebSocketConfig holds configuration for a WebSocket connection.
type WebSocketConfig struct {
	// Tenant labels the connection's metrics.
	Tenant string

	SampleRate int
	Channels   int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

// DefaultWebSocketConfig returns the default WebSocket configuration.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		SampleRate: 16000,
		Channels:   1,
		WriteWait:  DefaultWSWriteWait,
		PongWait:   DefaultWSPongWait,
		PingPeriod: DefaultWSPingPeriod,
	}
}

type websocketConnection struct {
	peerID string
	tenant string
	conn   *websocket.Conn

	handler EventHandler

	sampleRate int
	channels   int

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	// Output channel for async writes
	outChan chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

var _ Connection = (*websocketConnection)(nil)

// NewWebSocketConnection creates a connection with the default config.
func NewWebSocketConnection(peerID string, conn *websocket.Conn) Connection {
	return NewWebSocketConnectionWithConfig(peerID, conn, DefaultWebSocketConfig())
}

// NewWebSocketConnectionWithConfig creates a connection with a custom config.
func NewWebSocketConnectionWithConfig(peerID string, conn *websocket.Conn, cfg WebSocketConfig) Connection {
	ctx, cancel := context.WithCancel(context.Background())

	ws := &websocketConnection{
		peerID:     peerID,
		tenant:     cfg.Tenant,
		conn:       conn,
		handler:    &NoOpEventHandler{},
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PingPeriod,
		outChan:    make(chan []byte, 64),
		ctx:        ctx,
		cancel:     cancel,
	}

	ws.start()

	return ws
}

func (w *websocketConnection) PeerID() string {
	return w.peerID
}

func (w *websocketConnection) RegisterEventHandler(handler EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

func (w *websocketConnection) currentHandler() EventHandler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handler
}

func (w *websocketConnection) start() {
	w.currentHandler().OnStateChange(StateConnected)

	w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
		return nil
	})

	w.wg.Add(1)
	go w.readPump()

	w.wg.Add(1)
	go w.writePump()

	w.wg.Add(1)
	go w.pingPump()
}

func (w *websocketConnection) readPump() {
	defer w.wg.Done()
	defer w.Close()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			_, message, err := w.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("[websocket %s] read error: %v", w.peerID, err)
					w.currentHandler().OnError(err)
				}
				return
			}

			msg, err := DecodeInbound(message, w.sampleRate, w.channels)
			if err != nil {
				log.Printf("[websocket %s] %v", w.peerID, err)
				continue
			}
			msg.SessionID = w.peerID
			msg.Timestamp = time.Now()
			w.currentHandler().OnMessage(msg)
		}
	}
}

func (w *websocketConnection) SendMessage(msg *pipeline.PipelineMessage) {
	if msg == nil || msg.Type != pipeline.MsgTypeAudio || msg.AudioData == nil {
		return
	}
	frame, err := EncodeAudioChunk(msg.AudioData.Data, msg.AudioData.Sequence)
	if err != nil {
		log.Printf("[websocket %s] encode audio: %v", w.peerID, err)
		return
	}
	if !w.enqueue(frame) {
		metrics.IncCounter(metrics.AudioChunksDropped, w.tenant)
	}
}

func (w *websocketConnection) SendEvent(evt pipeline.Event) {
	frame, err := EncodeEvent(evt)
	if err != nil {
		log.Printf("[websocket %s] encode event: %v", w.peerID, err)
		return
	}
	w.enqueue(frame)
}

// enqueue drops the frame rather than blocking when the peer cannot keep up.
// Returns false when the frame was dropped.
func (w *websocketConnection) enqueue(frame []byte) bool {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return false
	}

	select {
	case w.outChan <- frame:
		return true
	default:
		log.Printf("[websocket %s] outbound queue full, frame dropped", w.peerID)
		return false
	}
}

func (w *websocketConnection) writePump() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case frame := <-w.outChan:
			w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("[websocket %s] write error: %v", w.peerID, err)
				w.currentHandler().OnError(err)
				return
			}
		}
	}
}

func (w *websocketConnection) pingPump() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *websocketConnection) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		w.cancel()
		w.conn.Close()
		w.currentHandler().OnStateChange(StateClosed)
	})
	return nil
}
