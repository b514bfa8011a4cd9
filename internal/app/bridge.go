package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/verbe/internal/controller"
	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/hotkey"
	"github.com/MrWong99/verbe/internal/voice"
)

// sendBuffer is the number of outgoing frames a client may lag behind before
// frames are dropped. Snapshots are full state, so a dropped one is replaced
// by the next.
const sendBuffer = 64

// Message types exchanged over /ws.
const (
	MsgFlags    = "flags"
	MsgContext  = "context"
	MsgOverlay  = "overlay"
	MsgHide     = "hide"
	MsgStart    = "start"
	MsgStop     = "stop"
	MsgCancel   = "cancel"
	MsgImage    = "image"
	MsgSnapshot = "snapshot"
	MsgError    = "error"
)

// Inbound is a message from the UI shell.
type Inbound struct {
	Type    string       `json:"type"`
	Flags   hotkey.Flags `json:"flags"`
	Context HostContext  `json:"context"`
	Visible bool         `json:"visible"`
	Mode    string       `json:"mode,omitempty"`
	Prompt  string       `json:"prompt,omitempty"`
}

// Outbound is a message to the UI shell.
type Outbound struct {
	Type     string          `json:"type"`
	Snapshot *voice.Snapshot `json:"snapshot,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Bridge connects UI shells to the controller over WebSocket. Inbound
// messages are posted to the main queue; every state change is broadcast as
// a snapshot.
type Bridge struct {
	exec    dispatch.Executor
	ctrl    *controller.Controller
	arbiter *hotkey.Arbiter
	host    *Host

	mu        sync.RWMutex
	clients   map[*client]struct{}
	unsub     func()
	closeOnce sync.Once
}

// NewBridge creates a Bridge and subscribes it to ctrl.
func NewBridge(exec dispatch.Executor, ctrl *controller.Controller, arbiter *hotkey.Arbiter, host *Host) *Bridge {
	b := &Bridge{
		exec:    exec,
		ctrl:    ctrl,
		arbiter: arbiter,
		host:    host,
		clients: make(map[*client]struct{}),
	}
	b.unsub = ctrl.Subscribe(b.broadcastSnapshot)
	return b
}

// Close unsubscribes from the controller and closes every client.
// Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(b.unsub)
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c.conn)
	}
	b.mu.RUnlock()
	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// Clients returns the number of connected clients.
func (b *Bridge) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Bridge) broadcastSnapshot(s voice.Snapshot) {
	data, err := json.Marshal(Outbound{Type: MsgSnapshot, Snapshot: &s})
	if err != nil {
		slog.Error("bridge: marshal snapshot", "err", err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slog.Debug("bridge: client too slow, dropping snapshot", "client", c.id)
		}
	}
}

func (b *Bridge) register(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
	slog.Info("bridge: client connected", "client", c.id, "clients", len(b.clients))
}

func (b *Bridge) unregister(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		slog.Info("bridge: client disconnected", "client", c.id, "clients", len(b.clients))
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		slog.Warn("bridge: accept", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	b.register(c)

	// The first frame is the current state.
	snap := b.ctrl.Snapshot()
	if data, err := json.Marshal(Outbound{Type: MsgSnapshot, Snapshot: &snap}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go b.writePump(ctx, c)
	b.readPump(ctx, c)
}

func (b *Bridge) readPump(ctx context.Context, c *client) {
	defer func() {
		b.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("bridge: read closed", "client", c.id, "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("bridge: read error", "client", c.id, "err", err)
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.reply(c, fmt.Sprintf("malformed message: %v", err))
			continue
		}
		if err := b.handle(msg); err != nil {
			b.reply(c, err.Error())
		}
	}
}

func (b *Bridge) writePump(ctx context.Context, c *client) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) reply(c *client, errText string) {
	data, err := json.Marshal(Outbound{Type: MsgError, Error: errText})
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handle maps one inbound message onto the main queue.
func (b *Bridge) handle(msg Inbound) error {
	switch msg.Type {
	case MsgFlags:
		flags := msg.Flags
		b.exec.Post(func() { b.arbiter.HandleFlags(flags) })
	case MsgContext:
		b.host.SetContext(msg.Context)
	case MsgOverlay:
		if msg.Visible {
			b.exec.Post(b.ctrl.ShowOverlay)
		} else {
			b.exec.Post(b.ctrl.HideOverlay)
		}
	case MsgHide:
		b.exec.Post(b.ctrl.Hide)
	case MsgStart, MsgStop:
		fn, err := b.modeAction(msg.Type, msg.Mode)
		if err != nil {
			return err
		}
		b.exec.Post(fn)
	case MsgCancel:
		b.exec.Post(b.ctrl.CancelCommand)
	case MsgImage:
		if msg.Prompt == "" {
			return errors.New("image: prompt is required")
		}
		prompt := msg.Prompt
		b.exec.Post(func() { b.ctrl.GenerateImage(prompt) })
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (b *Bridge) modeAction(kind, mode string) (func(), error) {
	switch {
	case kind == MsgStart && mode == "command":
		return b.ctrl.StartCommand, nil
	case kind == MsgStart && mode == "live":
		return b.ctrl.StartLive, nil
	case kind == MsgStop && mode == "command":
		return b.ctrl.StopCommand, nil
	case kind == MsgStop && mode == "live":
		return b.ctrl.StopLive, nil
	}
	return nil, fmt.Errorf("%s: unknown mode %q", kind, mode)
}
