package ptyhost

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trybotster/botster-core/internal/coreerrors"
	"github.com/trybotster/botster-core/internal/state"
)

// RequestKind identifies the kind of request the controller sends the host,
// mirroring spec §4.3's discriminated, versioned request table.
type RequestKind string

const (
	ReqSpawn             RequestKind = "spawn"
	ReqWrite             RequestKind = "write"
	ReqSubmit            RequestKind = "submit"
	ReqResize            RequestKind = "resize"
	ReqKill              RequestKind = "kill"
	ReqTrash             RequestKind = "trash"
	ReqRestore           RequestKind = "restore"
	ReqSetActivityTier   RequestKind = "set-activity-tier"
	ReqWakeTerminal      RequestKind = "wake-terminal"
	ReqGetSnapshot       RequestKind = "get-snapshot"
	ReqGetAllSnapshots   RequestKind = "get-all-snapshots"
	ReqTransitionState   RequestKind = "transition-state"
	ReqReplayHistory     RequestKind = "replay-history"
	ReqHealthCheck       RequestKind = "health-check"
	ReqPauseAll          RequestKind = "pause-all"
	ReqResumeAll         RequestKind = "resume-all"
	ReqDispose           RequestKind = "dispose"
	ReqPong              RequestKind = "pong" // handshake acknowledgement, handled before reaching Handle
)

// Request is the discriminated envelope for every controller->host call.
// Only the field(s) relevant to Kind are populated; see the per-kind
// comment on each field.
type Request struct {
	Kind      RequestKind
	SessionID string // all kinds except pause-all/resume-all/health-check/dispose

	Spawn          SpawnConfig  // spawn
	Bytes          []byte       // write
	Line           string       // submit
	Rows, Cols     uint16       // resize
	TrashTTL       time.Duration // trash
	Tier           Tier         // set-activity-tier; RingCapacity also used
	RingCapacity   uint32       // set-activity-tier (active)
	Trigger        state.Trigger // transition-state
	Confidence     float64      // transition-state
	ReplayN        int          // replay-history
	WorktreeID     string       // spawn, transition-state
}

// EventKind identifies the kind of event the host emits to the controller.
type EventKind string

const (
	EventReady            EventKind = "ready"
	EventData             EventKind = "data"
	EventExit             EventKind = "exit"
	EventError            EventKind = "error"
	EventSpawnResult       EventKind = "spawn-result"
	EventWakeResult        EventKind = "wake-result"
	EventAgentState        EventKind = "agent-state"
	EventTerminalTrashed    EventKind = "terminal-trashed"
	EventTerminalRestored   EventKind = "terminal-restored"
	EventTerminalStatus     EventKind = "terminal-status"
	EventHostThrottled      EventKind = "host-throttled"
	EventPong              EventKind = "pong"
)

// TerminalStatus is the flow-control status carried by terminal-status
// events (spec §4.3 streaming policy watermarks).
type TerminalStatus string

const (
	StatusPaused  TerminalStatus = "paused"
	StatusResumed TerminalStatus = "resumed"
)

// Event is the discriminated envelope for every host->controller emission.
type Event struct {
	Kind      EventKind
	SessionID string

	Err        error
	ExitCode   int
	Snapshot   []byte
	Snapshots  map[string][]byte
	Transition state.Transition
	Status     TerminalStatus
	ReplayData []string
}

// Watermark thresholds for the active-tier streaming policy (spec §4.3):
// above upperWatermark, the host stops reading from the child and emits
// "paused"; below lowerWatermark, it resumes and emits "resumed".
const (
	upperWatermark = 0.90
	lowerWatermark = 0.60
)

// healthCheckFallback is the handshake's fallback timer: a pong not
// received within this window is treated as a missed health check (spec
// §4.3 handshake protocol).
const healthCheckFallback = 5 * time.Second

// Host is the PTY Host's in-process event loop: it owns every Session,
// applies the streaming watermark policy, and serves the request table.
type Host struct {
	mu       sync.Mutex
	sessions map[string]*Session

	pausedGlobally bool
	wasAboveUpper  map[string]bool // per-session hysteresis state for the watermark policy

	healthTimer   *time.Timer
	healthPending bool

	events chan Event
	logger *slog.Logger
}

// New constructs a Host and queues EventReady once on its event channel,
// per spec §4.3; drain Events to receive it and every later emission.
func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		sessions:      make(map[string]*Session),
		wasAboveUpper: make(map[string]bool),
		events:        make(chan Event, 256),
		logger:        logger,
	}
	h.events <- Event{Kind: EventReady}
	return h
}

// Events returns the channel the controller should drain for host->
// controller emissions.
func (h *Host) Events() <-chan Event { return h.events }

func (h *Host) emit(e Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("ptyhost: event channel full, dropping event", "kind", e.Kind, "session", e.SessionID)
	}
}

func (h *Host) onSessionEvent(e Event) {
	if e.Kind == EventData {
		h.checkWatermark(e.SessionID)
	}
	h.emit(e)
}

// checkWatermark applies the hysteresis policy: emit "paused" once
// utilisation crosses upperWatermark, "resumed" once it falls back below
// lowerWatermark, never re-emitting the same status without crossing the
// opposite threshold first.
func (h *Host) checkWatermark(sessionID string) {
	h.mu.Lock()
	sess := h.sessions[sessionID]
	h.mu.Unlock()
	if sess == nil {
		return
	}
	util := sess.RingUtilization()

	h.mu.Lock()
	above := h.wasAboveUpper[sessionID]
	h.mu.Unlock()

	switch {
	case !above && util >= upperWatermark:
		h.mu.Lock()
		h.wasAboveUpper[sessionID] = true
		h.mu.Unlock()
		h.emit(Event{Kind: EventTerminalStatus, SessionID: sessionID, Status: StatusPaused})
	case above && util <= lowerWatermark:
		h.mu.Lock()
		h.wasAboveUpper[sessionID] = false
		h.mu.Unlock()
		h.emit(Event{Kind: EventTerminalStatus, SessionID: sessionID, Status: StatusResumed})
	}
}

// Handle dispatches one Request, synchronously. The controller issues
// requests on a single goroutine (spec §5's per-session mailbox ordering),
// so Handle itself does not serialise across sessions.
func (h *Host) Handle(ctx context.Context, req Request) {
	switch req.Kind {
	case ReqSpawn:
		h.handleSpawn(req)
	case ReqWrite:
		h.handleWrite(req)
	case ReqSubmit:
		h.handleSubmit(req)
	case ReqResize:
		h.handleResize(req)
	case ReqKill:
		h.handleKill(req)
	case ReqTrash:
		h.handleTrash(req)
	case ReqRestore:
		h.handleRestore(req)
	case ReqSetActivityTier:
		h.handleSetActivityTier(req)
	case ReqWakeTerminal:
		h.handleWakeTerminal(req)
	case ReqGetSnapshot:
		h.handleGetSnapshot(req)
	case ReqGetAllSnapshots:
		h.handleGetAllSnapshots()
	case ReqTransitionState:
		h.handleTransitionState(req)
	case ReqReplayHistory:
		h.handleReplayHistory(req)
	case ReqHealthCheck:
		h.handleHealthCheck()
	case ReqPauseAll:
		h.handlePauseAll()
	case ReqResumeAll:
		h.handleResumeAll()
	case ReqDispose:
		h.handleDispose()
	}
}

func (h *Host) handleSpawn(req Request) {
	sess := newSession(req.SessionID, req.WorktreeID, h.onSessionEvent, h.logger, time.Now())

	h.mu.Lock()
	h.sessions[req.SessionID] = sess
	h.mu.Unlock()

	err := sess.Spawn(req.Spawn)
	if err != nil {
		h.emit(Event{Kind: EventSpawnResult, SessionID: req.SessionID, Err: err})
		return
	}
	h.emit(Event{Kind: EventSpawnResult, SessionID: req.SessionID})
}

func (h *Host) get(sessionID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

func (h *Host) handleWrite(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: coreerrors.New(coreerrors.Disconnected, "unknown session")})
		return
	}
	if err := sess.Write(req.Bytes); err != nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: err})
	}
}

func (h *Host) handleSubmit(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: coreerrors.New(coreerrors.Disconnected, "unknown session")})
		return
	}
	if err := sess.Submit(req.Line); err != nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: err})
	}
}

func (h *Host) handleResize(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	if err := sess.Resize(req.Rows, req.Cols); err != nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: err})
	}
}

func (h *Host) handleKill(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	_ = sess.Kill()
}

func (h *Host) handleTrash(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	ttl := req.TrashTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	sess.Trash(ttl, time.Now())
	h.emit(Event{Kind: EventTerminalTrashed, SessionID: req.SessionID})
}

func (h *Host) handleRestore(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	sess.Restore()
	h.emit(Event{Kind: EventTerminalRestored, SessionID: req.SessionID})
}

func (h *Host) handleSetActivityTier(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	capacity := req.RingCapacity
	if capacity == 0 {
		capacity = 1 << 20
	}
	if err := sess.SetTier(req.Tier, capacity); err != nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: err})
	}
}

func (h *Host) handleWakeTerminal(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		h.emit(Event{Kind: EventWakeResult, SessionID: req.SessionID, Err: coreerrors.New(coreerrors.NotFound, "unknown session")})
		return
	}
	snap := sess.Snapshot()
	capacity := req.RingCapacity
	if capacity == 0 {
		capacity = 1 << 20
	}
	if err := sess.SetTier(TierActive, capacity); err != nil {
		h.emit(Event{Kind: EventWakeResult, SessionID: req.SessionID, Err: err})
		return
	}
	h.emit(Event{Kind: EventWakeResult, SessionID: req.SessionID, Snapshot: snap})
}

func (h *Host) handleGetSnapshot(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: coreerrors.New(coreerrors.NotFound, "unknown session")})
		return
	}
	h.emit(Event{Kind: EventData, SessionID: req.SessionID, Snapshot: sess.Snapshot()})
}

func (h *Host) handleGetAllSnapshots() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	sessions := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		ids = append(ids, id)
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	out := make(map[string][]byte, len(ids))
	for i, id := range ids {
		out[id] = sessions[i].Snapshot()
	}
	h.emit(Event{Kind: EventData, Snapshots: out})
}

func (h *Host) handleTransitionState(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	tr, err := sess.Apply(req.Trigger, req.Confidence, time.Now())
	if err != nil {
		h.emit(Event{Kind: EventError, SessionID: req.SessionID, Err: err})
		return
	}
	h.emit(Event{Kind: EventAgentState, SessionID: req.SessionID, Transition: tr})
}

func (h *Host) handleReplayHistory(req Request) {
	sess := h.get(req.SessionID)
	if sess == nil {
		return
	}
	n := req.ReplayN
	if n <= 0 {
		n = 1000
	}
	h.emit(Event{Kind: EventData, SessionID: req.SessionID, ReplayData: sess.ReplayHistory(n)})
}

// handleHealthCheck implements the resume-health-check handshake: send a
// pong request's implicit fallback timer, cancelled the moment Pong is
// observed by the caller via HandlePong. Rapid resume cycles reuse the
// same timer rather than accumulating one per call (spec §4.3 handshake
// protocol).
func (h *Host) handleHealthCheck() {
	h.mu.Lock()
	if h.healthTimer != nil {
		h.healthTimer.Stop()
	}
	h.healthPending = true
	h.healthTimer = time.AfterFunc(healthCheckFallback, func() {
		h.mu.Lock()
		pending := h.healthPending
		h.healthPending = false
		h.mu.Unlock()
		if pending {
			h.emit(Event{Kind: EventError, Err: coreerrors.New(coreerrors.Timeout, "health-check fallback elapsed")})
		}
	})
	h.mu.Unlock()

	h.emit(Event{Kind: EventPong})
}

// HandlePong cancels the health-check fallback timer. A pong observed
// after the fallback has already elapsed is ignored (spec §4.3: "late
// acknowledgements after a fallback timeout are ignored").
func (h *Host) HandlePong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.healthPending {
		return
	}
	h.healthPending = false
	if h.healthTimer != nil {
		h.healthTimer.Stop()
	}
}

func (h *Host) handlePauseAll() {
	h.mu.Lock()
	h.pausedGlobally = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.SetPaused(true)
	}
}

func (h *Host) handleResumeAll() {
	h.mu.Lock()
	h.pausedGlobally = false
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.SetPaused(false)
	}
}

func (h *Host) handleDispose() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Kill()
		}(s)
	}
	wg.Wait()
}

// PurgeExpiredTrash evicts sessions whose trash expiry has elapsed. The
// controller is expected to call this periodically.
func (h *Host) PurgeExpiredTrash(now time.Time) {
	h.mu.Lock()
	var expired []string
	for id, s := range h.sessions {
		if s.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(h.sessions, id)
	}
	sessions := h.sessions
	_ = sessions
	h.mu.Unlock()
}
