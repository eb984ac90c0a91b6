// Package realtime manages authenticated websocket connections to
// room-based realtime services.
//
// A connection joins exactly one room. After the handshake the server
// answers "r-connected"; from then on every envelope is dispatched to the
// listeners registered for its type.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/aussiebroadwan/authkit/pkg/eventbus"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

// Envelope types.
const (
	TypeJoin      = "r"
	TypeConnected = "r-connected"
	TypeMessage   = "msg"
)

const (
	maxReadBytes     = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("realtime: connection closed")

// Envelope is the wire frame.
type Envelope struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoomPath returns "/room" or "/room/id".
func RoomPath(room, id string) string {
	if id == "" {
		return "/" + room
	}
	return "/" + room + "/" + id
}

// Manager dials and tracks connections. Header returns the Authorization
// header for new connections; authmanager.Manager.AuthorizationHeader fits.
type Manager struct {
	header func() string
	logger *slog.Logger

	mu    sync.Mutex
	conns []*Conn
}

// New creates a manager.
func New(header func() string, logger *slog.Logger) *Manager {
	return &Manager{header: header, logger: slogx.OrDefault(logger)}
}

// Connect dials uri, joins the room and waits for the server to confirm.
// On any failure the socket is closed and not tracked.
func (m *Manager) Connect(ctx context.Context, uri, room, roomID string) (*Conn, error) {
	h := http.Header{}
	if v := m.header(); v != "" {
		h.Set("Authorization", v)
	}

	ws, resp, err := websocket.Dial(ctx, uri, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", uri, err)
	}
	ws.SetReadLimit(maxReadBytes)

	path := RoomPath(room, roomID)
	if err := handshake(ctx, ws, path); err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		room:     path,
		ws:       ws,
		cancel:   cancel,
		done:     make(chan struct{}),
		messages: eventbus.New[string, json.RawMessage](),
		errs:     eventbus.New[struct{}, error](),
		logger:   m.logger.With("room", path),
		onClose:  m.forget,
	}

	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()

	go c.readLoop(connCtx)

	m.logger.InfoContext(ctx, "realtime_connected", "room", path)
	return c, nil
}

func handshake(ctx context.Context, ws *websocket.Conn, path string) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, ws, Envelope{Type: TypeJoin, Room: path}); err != nil {
		return fmt.Errorf("realtime: join %s: %w", path, err)
	}
	for {
		var env Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return fmt.Errorf("realtime: join %s: %w", path, err)
		}
		if env.Type == TypeConnected {
			return nil
		}
	}
}

// Disconnect closes c and stops tracking it.
func (m *Manager) Disconnect(c *Conn) {
	c.Close()
}

// DisconnectAll closes every tracked connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Len returns the number of open connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) forget(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = slices.DeleteFunc(m.conns, func(x *Conn) bool { return x == c })
}

// Conn is one joined room.
type Conn struct {
	room   string
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	messages *eventbus.Bus[string, json.RawMessage]
	errs     *eventbus.Bus[struct{}, error]

	closeOnce sync.Once
	onClose   func(*Conn)
}

// Room returns the joined room path.
func (c *Conn) Room() string { return c.room }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// OnMessage registers fn for "msg" envelopes.
func (c *Conn) OnMessage(fn func(json.RawMessage)) (eventbus.Unsubscribe, error) {
	return c.On(TypeMessage, fn)
}

// On registers fn for envelopes of the given type.
func (c *Conn) On(typ string, fn func(json.RawMessage)) (eventbus.Unsubscribe, error) {
	return c.messages.Subscribe(typ, fn)
}

// OnError registers fn for the error that ends the connection. Closing the
// connection locally is not reported.
func (c *Conn) OnError(fn func(error)) (eventbus.Unsubscribe, error) {
	return c.errs.Subscribe(struct{}{}, fn)
}

// Send writes a "msg" envelope carrying v.
func (c *Conn) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return wsjson.Write(ctx, c.ws, Envelope{Type: TypeMessage, Room: c.room, Data: data})
}

// Close closes the socket normally. It is idempotent and safe to call from
// a listener; wait on Done for the read loop to exit.
func (c *Conn) Close() {
	c.shutdown(nil)
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c)
		}
		if cause != nil {
			c.logger.Warn("realtime_connection_lost", "err", cause)
			c.errs.Emit(struct{}{}, cause)
		} else {
			c.logger.Debug("realtime_disconnected")
		}
		c.messages.UnsubscribeAll()
		c.errs.UnsubscribeAll()
	})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}
		c.messages.Emit(env.Type, env.Data)
	}
}
