package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicechat/internal/engine"
	"github.com/keshucs12345/voicechat/internal/mailbox"
)

const (
	clientQueue = 32
	writeWait   = 5 * time.Second
)

// Signal is the avatar-facing state pushed on every change.
type Signal struct {
	Emotion  string `json:"emotion"`
	Loudness int    `json:"loudness"`
	Running  bool   `json:"running"`
}

// Event is one message sent to websocket clients.
type Event struct {
	Type    string  `json:"type"`
	Message string  `json:"message,omitempty"`
	Signal  *Signal `json:"signal,omitempty"`
}

// CommandRequest is an inbound command from HTTP or websocket clients.
type CommandRequest struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans engine output out to websocket clients. It is the only reader of
// the engine's outbound mailbox.
type Hub struct {
	log    zerolog.Logger
	eng    Engine
	outbox *mailbox.Mailbox

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Signal
}

func NewHub(log zerolog.Logger, eng Engine, outbox *mailbox.Mailbox) *Hub {
	return &Hub{log: log, eng: eng, outbox: outbox, clients: make(map[*client]struct{})}
}

// Run forwards outbox errors and signal changes every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h.pump()
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
		}
	}
}

func (h *Hub) pump() {
	for {
		cmd, ok := h.outbox.TryReceive()
		if !ok {
			break
		}
		if cmd.Kind != mailbox.Error {
			h.log.Warn().Stringer("kind", cmd.Kind).Msg("unexpected outbound command")
			continue
		}
		h.broadcast(Event{Type: "error", Message: cmd.Payload})
	}

	sig := Signal{Emotion: h.eng.Emotion(), Loudness: h.eng.Loudness(), Running: h.eng.State() == engine.StateRunning}
	h.mu.Lock()
	changed := h.last == nil || *h.last != sig
	if changed {
		h.last = &sig
	}
	h.mu.Unlock()
	if changed {
		h.broadcast(Event{Type: "signal", Signal: &sig})
	}
}

func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Msg("dropping slow websocket client")
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		if msg, err := json.Marshal(Event{Type: "signal", Signal: h.last}); err == nil {
			c.send <- msg
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// serve runs the reader and writer for one connection and returns when it closes.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	h.register(c)
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	go func() {
		defer conn.Close()
		for msg := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed")
				h.unregister(c)
				break
			}
		}
		// drain so register/broadcast never block on a dead client
		for range c.send {
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			h.log.Info().Err(err).Msg("websocket client disconnected")
			h.unregister(c)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req CommandRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			h.log.Warn().Str("msg", string(msg)).Msg("unable to parse websocket command")
			continue
		}
		cmd, err := req.command()
		if err != nil {
			h.log.Warn().Err(err).Msg("rejected websocket command")
			continue
		}
		h.eng.Send(cmd)
	}
}
