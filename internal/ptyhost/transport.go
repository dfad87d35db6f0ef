package ptyhost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/state"
)

// wire DTOs translate the in-process Request/Event envelopes to and from
// JSON over the controller<->host websocket connection (spec §6: "a
// bidirectional message channel carrying length-prefixed payloads...
// payload encoding is implementation-defined"). error and time.Duration
// don't round-trip through encoding/json on their own, so they're
// flattened here.

type wireError struct {
	Kind    coreerrors.Kind          `json:"kind"`
	Message string                   `json:"message"`
	Ref     string                   `json:"ref,omitempty"`
	SubCode coreerrors.SpawnSubCode  `json:"sub_code,omitempty"`
}

func toWireError(err error) *wireError {
	if err == nil {
		return nil
	}
	ce, ok := err.(*coreerrors.Error)
	if !ok {
		return &wireError{Kind: coreerrors.IOError, Message: err.Error()}
	}
	return &wireError{Kind: ce.Kind, Message: ce.Message, Ref: ce.Ref, SubCode: ce.SubCode}
}

func fromWireError(we *wireError) error {
	if we == nil {
		return nil
	}
	e := coreerrors.New(we.Kind, we.Message)
	if we.Ref != "" {
		e = e.WithRef(we.Ref)
	}
	e.SubCode = we.SubCode
	return e
}

type wireRequest struct {
	Kind       RequestKind    `json:"kind"`
	SessionID  string         `json:"session_id,omitempty"`
	Spawn      *SpawnConfig   `json:"spawn,omitempty"`
	Bytes      []byte         `json:"bytes,omitempty"`
	Line       string         `json:"line,omitempty"`
	Rows       uint16         `json:"rows,omitempty"`
	Cols       uint16         `json:"cols,omitempty"`
	TrashTTLMs int64          `json:"trash_ttl_ms,omitempty"`
	Tier       Tier           `json:"tier,omitempty"`
	RingCapacity uint32       `json:"ring_capacity,omitempty"`
	Trigger    state.Trigger  `json:"trigger,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	ReplayN    int            `json:"replay_n,omitempty"`
	WorktreeID string         `json:"worktree_id,omitempty"`
}

func toWireRequest(r Request) wireRequest {
	wr := wireRequest{
		Kind: r.Kind, SessionID: r.SessionID, Bytes: r.Bytes, Line: r.Line,
		Rows: r.Rows, Cols: r.Cols, TrashTTLMs: r.TrashTTL.Milliseconds(),
		Tier: r.Tier, RingCapacity: r.RingCapacity, Trigger: r.Trigger,
		Confidence: r.Confidence, ReplayN: r.ReplayN, WorktreeID: r.WorktreeID,
	}
	if r.Kind == ReqSpawn {
		wr.Spawn = &r.Spawn
	}
	return wr
}

func fromWireRequest(wr wireRequest) Request {
	r := Request{
		Kind: wr.Kind, SessionID: wr.SessionID, Bytes: wr.Bytes, Line: wr.Line,
		Rows: wr.Rows, Cols: wr.Cols, TrashTTL: time.Duration(wr.TrashTTLMs) * time.Millisecond,
		Tier: wr.Tier, RingCapacity: wr.RingCapacity, Trigger: wr.Trigger,
		Confidence: wr.Confidence, ReplayN: wr.ReplayN, WorktreeID: wr.WorktreeID,
	}
	if wr.Spawn != nil {
		r.Spawn = *wr.Spawn
	}
	return r
}

type wireEvent struct {
	Kind       EventKind          `json:"kind"`
	SessionID  string             `json:"session_id,omitempty"`
	Err        *wireError         `json:"err,omitempty"`
	ExitCode   int                `json:"exit_code,omitempty"`
	Snapshot   []byte             `json:"snapshot,omitempty"`
	Snapshots  map[string][]byte  `json:"snapshots,omitempty"`
	Transition *state.Transition  `json:"transition,omitempty"`
	Status     TerminalStatus     `json:"status,omitempty"`
	ReplayData []string           `json:"replay_data,omitempty"`
}

func toWireEvent(e Event) wireEvent {
	we := wireEvent{
		Kind: e.Kind, SessionID: e.SessionID, Err: toWireError(e.Err),
		ExitCode: e.ExitCode, Snapshot: e.Snapshot, Snapshots: e.Snapshots,
		Status: e.Status, ReplayData: e.ReplayData,
	}
	if e.Transition != (state.Transition{}) {
		we.Transition = &e.Transition
	}
	return we
}

func fromWireEvent(we wireEvent) Event {
	e := Event{
		Kind: we.Kind, SessionID: we.SessionID, Err: fromWireError(we.Err),
		ExitCode: we.ExitCode, Snapshot: we.Snapshot, Snapshots: we.Snapshots,
		Status: we.Status, ReplayData: we.ReplayData,
	}
	if we.Transition != nil {
		e.Transition = *we.Transition
	}
	return e
}

// upgrader is shared across every inbound controller connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades a controller connection, forwards its requests into
// the Host, and streams the Host's events back out. One connection serves
// the whole Host; spec §6 doesn't multiplex hosts per controller.
func ServeHTTP(h *Host, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("ptyhost: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				e, ok := <-h.Events()
				if !ok {
					return
				}
				if err := conn.WriteJSON(toWireEvent(e)); err != nil {
					logger.Warn("ptyhost: event write failed", "error", err)
					return
				}
			}
		}()

		ctx := r.Context()
		for {
			var wr wireRequest
			if err := conn.ReadJSON(&wr); err != nil {
				logger.Debug("ptyhost: controller connection closed", "error", err)
				return
			}
			if wr.Kind == ReqPong {
				h.HandlePong()
				continue
			}
			h.Handle(ctx, fromWireRequest(wr))
		}
	}
}

// Client is the controller-side connection to a PTY Host process, grounded
// on the teacher's tunnel.Manager: a dialer, a reader goroutine feeding a
// buffered channel, and an atomic connection-status flag for lock-free
// status reads from a TUI.
type Client struct {
	url    string
	status atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	events chan Event
	logger *slog.Logger
}

const (
	clientDisconnected int32 = iota
	clientConnecting
	clientConnected
)

// NewClient constructs a Client targeting a PTY Host's websocket endpoint.
// Call Connect to establish the connection before issuing requests.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		events: make(chan Event, 256),
		logger: logger,
	}
}

// Events returns the channel the controller should drain for host events.
func (c *Client) Events() <-chan Event { return c.events }

// Connected reports the current connection status.
func (c *Client) Connected() bool { return c.status.Load() == clientConnected }

// Connect dials the host and runs the read loop until ctx is cancelled or
// the connection drops. Callers typically run this in its own goroutine
// and reconnect on return, respawning the host process first if the
// connection never came up at all (spec §4.3: "the controller must ...
// be prepared to respawn the host").
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(clientConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.status.Store(clientDisconnected)
		return fmt.Errorf("ptyhost: dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.status.Store(clientConnected)
	defer func() {
		c.status.Store(clientDisconnected)
		conn.Close()
	}()

	for {
		var we wireEvent
		if err := conn.ReadJSON(&we); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("ptyhost: event read failed: %w", err)
			}
		}
		select {
		case c.events <- fromWireEvent(we):
		default:
			c.logger.Warn("ptyhost: client event buffer full, dropping event")
		}
	}
}

// Send issues one request to the host. Safe for concurrent use.
func (c *Client) Send(req Request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return coreerrors.New(coreerrors.Unavailable, "ptyhost client not connected")
	}
	if err := conn.WriteJSON(toWireRequest(req)); err != nil {
		return coreerrors.Wrap(coreerrors.Unavailable, "ptyhost: send failed", err)
	}
	return nil
}

// Pong acknowledges a health-check ping (spec §4.3 handshake protocol).
func (c *Client) Pong() error {
	return c.Send(Request{Kind: ReqPong})
}
