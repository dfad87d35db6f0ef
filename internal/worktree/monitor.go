package worktree

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5"
)

// Defaults from spec §4.5/§9: base/max adaptive-poll interval, the
// debounced AI-summary delay, and the circuit-breaker trip threshold.
const (
	DefaultBaseInterval     = 2 * time.Second
	DefaultMaxInterval      = 30 * time.Second
	DefaultAIBufferDelay    = 10 * time.Second
	DefaultBreakerThreshold = 3
)

// errWorktreeRemoved signals that the worktree directory no longer exists
// (spec §4.5 step 2: "if the directory no longer exists, mark the
// worktree removed and stop").
var errWorktreeRemoved = errors.New("worktree: directory no longer exists")

// statusFetcher abstracts the VCS status read so tests can inject
// failures without a real git repository; the production default reads a
// real worktree via go-git.
type statusFetcher func() (deltas []FileDelta, branch string, err error)

// Config configures one Monitor instance (spec §4.5: "one instance per
// worktree").
type Config struct {
	WorktreeID string
	Path       string
	MetaDir    string // note file directory; empty disables the note file

	BaseInterval     time.Duration
	MaxInterval      time.Duration
	AIBufferDelay    time.Duration
	BreakerThreshold int

	OnSnapshot       func(Snapshot)
	OnSummaryTrigger func(worktreeID string)
	OnRemoved        func(worktreeID string)

	Now    func() time.Time
	Logger *slog.Logger

	statusFetcher statusFetcher // test seam; nil uses go-git against Path
}

func (c *Config) setDefaults() {
	if c.BaseInterval == 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.AIBufferDelay == 0 {
		c.AIBufferDelay = DefaultAIBufferDelay
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor is one worktree's adaptive poller (spec §4.5).
type Monitor struct {
	cfg  Config
	note *NoteFile

	mu                   sync.Mutex
	lastHash             string
	wasDirty             bool
	consecutiveFailures  int
	breakerTripped       bool
	lastActivity         time.Time
	forceRefresh         bool
	debounceTimer        *time.Timer

	watcher *fsnotify.Watcher
}

// New constructs a Monitor. If cfg.MetaDir is non-empty, a NoteFile is
// created under it for this worktree.
func New(cfg Config) (*Monitor, error) {
	cfg.setDefaults()
	if cfg.statusFetcher == nil {
		path := cfg.Path
		cfg.statusFetcher = func() ([]FileDelta, string, error) {
			return fetchGitStatus(path)
		}
	}

	m := &Monitor{cfg: cfg}

	if cfg.MetaDir != "" {
		note, err := NewNoteFile(cfg.MetaDir, cfg.WorktreeID)
		if err != nil {
			return nil, err
		}
		m.note = note
	}

	return m, nil
}

func fetchGitStatus(path string) ([]FileDelta, string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, "", errWorktreeRemoved
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, "", err
	}

	branch := ""
	if head, err := repo.Head(); err == nil {
		branch = head.Name().Short()
	}

	deltas := make([]FileDelta, 0, len(status))
	for path, fs := range status {
		code := fs.Worktree
		if code == git.Unmodified {
			code = fs.Staging
		}
		deltas = append(deltas, FileDelta{Path: path, Status: string(rune(code))})
	}
	return deltas, branch, nil
}

// RunCycle executes one poll cycle of the spec §4.5 algorithm. It returns
// the interval to wait before the next cycle, and whether the worktree
// was found to be removed (in which case the caller should stop
// scheduling further cycles for this monitor).
func (m *Monitor) RunCycle(ctx context.Context) (time.Duration, bool) {
	t0 := m.cfg.Now()

	if m.BreakerTripped() {
		return m.interval(0), false
	}

	deltas, branch, err := m.cfg.statusFetcher()
	if err != nil {
		if errors.Is(err, errWorktreeRemoved) {
			if m.cfg.OnRemoved != nil {
				m.cfg.OnRemoved(m.cfg.WorktreeID)
			}
			return 0, true
		}
		m.recordFailure(err)
		return m.interval(m.cfg.Now().Sub(t0)), false
	}

	m.mu.Lock()
	m.consecutiveFailures = 0
	m.mu.Unlock()

	hash := computeHash(deltas)

	m.mu.Lock()
	unchanged := hash == m.lastHash && !m.forceRefresh
	m.forceRefresh = false
	m.mu.Unlock()

	if unchanged {
		return m.interval(m.cfg.Now().Sub(t0)), false
	}

	dirty := len(deltas) > 0

	m.mu.Lock()
	m.lastHash = hash
	wasDirty := m.wasDirty
	m.wasDirty = dirty
	if dirty {
		m.lastActivity = t0
	}
	lastActivity := m.lastActivity
	m.mu.Unlock()

	note := ""
	if m.note != nil {
		note, _ = m.note.CurrentNote()
	}

	snap := Snapshot{
		WorktreeID:    m.cfg.WorktreeID,
		Path:          m.cfg.Path,
		Branch:        branch,
		ModifiedCount: len(deltas),
		Deltas:        sortedDeltas(deltas),
		Mood:          classifyMood(len(deltas)),
		Summary:       note,
		LastActivity:  lastActivity,
		Hash:          hash,
	}
	if m.cfg.OnSnapshot != nil {
		m.cfg.OnSnapshot(snap)
	}

	m.decideSummaryTrigger(wasDirty, dirty)

	return m.interval(m.cfg.Now().Sub(t0)), false
}

// decideSummaryTrigger implements spec §4.5 step 5's AI-summary decision:
// immediate trigger on clean->dirty, debounced+coalesced while staying
// dirty, cancel on dirty->clean.
func (m *Monitor) decideSummaryTrigger(wasDirty, dirty bool) {
	switch {
	case !wasDirty && dirty:
		m.cancelDebounce()
		if m.cfg.OnSummaryTrigger != nil {
			m.cfg.OnSummaryTrigger(m.cfg.WorktreeID)
		}
	case wasDirty && dirty:
		m.scheduleDebounced()
	default: // !dirty
		m.cancelDebounce()
	}
}

func (m *Monitor) scheduleDebounced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = time.AfterFunc(m.cfg.AIBufferDelay, func() {
		if m.cfg.OnSummaryTrigger != nil {
			m.cfg.OnSummaryTrigger(m.cfg.WorktreeID)
		}
	})
}

func (m *Monitor) cancelDebounce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
}

// recordFailure implements the circuit breaker (spec §4.5): "index
// locked" is logged and skipped rather than counted; any other error
// increments the consecutive-failure count, tripping the breaker and
// publishing an error-mood snapshot at the configured threshold.
func (m *Monitor) recordFailure(err error) {
	if isIndexLocked(err) {
		m.cfg.Logger.Debug("worktree: index locked, skipping cycle", "worktree", m.cfg.WorktreeID)
		return
	}

	m.mu.Lock()
	m.consecutiveFailures++
	trip := m.consecutiveFailures >= m.cfg.BreakerThreshold && !m.breakerTripped
	if trip {
		m.breakerTripped = true
	}
	m.mu.Unlock()

	if trip {
		m.cfg.Logger.Error("worktree: circuit breaker tripped", "worktree", m.cfg.WorktreeID, "consecutive_failures", m.consecutiveFailures, "error", err)
		if m.cfg.OnSnapshot != nil {
			m.cfg.OnSnapshot(Snapshot{WorktreeID: m.cfg.WorktreeID, Path: m.cfg.Path, Mood: MoodError, Summary: err.Error()})
		}
	}
}

func isIndexLocked(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "index.lock") || strings.Contains(lower, "index locked")
}

// interval computes the next poll delay per spec §4.5 step 7.
func (m *Monitor) interval(elapsed time.Duration) time.Duration {
	scaled := time.Duration(math.Ceil(float64(elapsed) * 1.5))
	next := scaled
	if next < m.cfg.BaseInterval {
		next = m.cfg.BaseInterval
	}
	if next > m.cfg.MaxInterval {
		next = m.cfg.MaxInterval
	}
	return next
}

// BreakerTripped reports whether the circuit breaker is currently open.
func (m *Monitor) BreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerTripped
}

// Reset restores polling after a circuit-breaker trip and forces the next
// cycle to re-emit a snapshot regardless of hash (spec §4.5: "a manual
// refresh resets the breaker").
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.breakerTripped = false
	m.consecutiveFailures = 0
	m.forceRefresh = true
	m.mu.Unlock()
}

// ForceRefresh requests that the next cycle emit a snapshot even if the
// change-set hash is unchanged (spec §4.5 step 4's "force-refresh"
// escape hatch, driven here by the filesystem watcher).
func (m *Monitor) ForceRefresh() {
	m.mu.Lock()
	m.forceRefresh = true
	m.mu.Unlock()
}

// Run drives RunCycle on the adaptive schedule until ctx is cancelled or
// the worktree is found removed. Polling pauses entirely while the
// breaker is tripped; Reset (e.g. from the CLI's force-reset-breaker
// subcommand) resumes it.
func (m *Monitor) Run(ctx context.Context) {
	defer m.stopWatch()
	m.startWatch()

	wait := m.cfg.BaseInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if m.BreakerTripped() {
			continue
		}

		next, removed := m.RunCycle(ctx)
		if removed {
			return
		}
		wait = next
	}
}

// startWatch installs an fsnotify watch on the worktree root as a
// force-refresh trigger alongside the adaptive poll loop (spec §11
// domain-stack wiring for fsnotify). Failure to install a watch is
// non-fatal — polling alone still covers the worktree.
func (m *Monitor) startWatch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.cfg.Logger.Warn("worktree: fsnotify unavailable, falling back to polling only", "worktree", m.cfg.WorktreeID, "error", err)
		return
	}
	if err := w.Add(m.cfg.Path); err != nil {
		m.cfg.Logger.Warn("worktree: fsnotify watch failed", "worktree", m.cfg.WorktreeID, "error", err)
		w.Close()
		return
	}
	m.watcher = w

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				m.ForceRefresh()
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (m *Monitor) stopWatch() {
	if m.watcher != nil {
		m.watcher.Close()
	}
}
