package controller

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRecord is the registry's durable view of one PTY Host session: just
// enough to reconcile which sessions a fresh host is expected to still own
// after a crash and respawn (spec §4.3, SPEC_FULL.md §12 "host crash
// classification and respawn bookkeeping").
type SessionRecord struct {
	SessionID  string
	WorktreeID string
	Kind       string
	State      string
	RunID      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Registry is the sqlite-backed session registry. It is the controller's
// only durable state about live sessions; the PTY Host itself is stateless
// across restarts.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if necessary) the registry database at dsn,
// e.g. filepath.Join(dataDir, "sessions.db").
func OpenRegistry(dsn string) (*Registry, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("controller: open registry: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("controller: set WAL mode: %w", err)
	}
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		session_id  TEXT PRIMARY KEY,
		worktree_id TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL DEFAULT '',
		run_id      TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("controller: migrate registry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// RecordSpawn upserts a session as just-spawned, in idle state.
func (r *Registry) RecordSpawn(sessionID, worktreeID, kind string, now time.Time) error {
	_, err := r.db.Exec(`INSERT INTO sessions (session_id, worktree_id, kind, state, created_at, updated_at)
		VALUES (?, ?, ?, 'idle', ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			worktree_id = excluded.worktree_id,
			kind        = excluded.kind,
			state       = 'idle',
			updated_at  = excluded.updated_at`,
		sessionID, worktreeID, kind, now, now)
	if err != nil {
		return fmt.Errorf("controller: record spawn %s: %w", sessionID, err)
	}
	return nil
}

// UpdateState records a session's latest state machine value and, when
// bound to a run, its run id.
func (r *Registry) UpdateState(sessionID, state, runID string, now time.Time) error {
	_, err := r.db.Exec(`UPDATE sessions SET state = ?, run_id = ?, updated_at = ? WHERE session_id = ?`,
		state, runID, now, sessionID)
	if err != nil {
		return fmt.Errorf("controller: update state %s: %w", sessionID, err)
	}
	return nil
}

// Remove deletes a session from the registry, e.g. on exit or dispose.
func (r *Registry) Remove(sessionID string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("controller: remove %s: %w", sessionID, err)
	}
	return nil
}

// List returns every registered session, ordered by session id for
// deterministic iteration.
func (r *Registry) List() ([]SessionRecord, error) {
	rows, err := r.db.Query(`SELECT session_id, worktree_id, kind, state, run_id, created_at, updated_at
		FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("controller: list registry: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.WorktreeID, &rec.Kind, &rec.State, &rec.RunID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("controller: scan registry row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Reconcile compares the registry's session set to the set a freshly
// (re)started host actually reports as live and returns the registry
// entries that the host no longer owns — these are the sessions lost in the
// crash, and the caller (System) decides whether to respawn or drop them.
func (r *Registry) Reconcile(liveSessionIDs []string) ([]SessionRecord, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(liveSessionIDs))
	for _, id := range liveSessionIDs {
		live[id] = struct{}{}
	}
	var lost []SessionRecord
	for _, rec := range all {
		if _, ok := live[rec.SessionID]; !ok {
			lost = append(lost, rec)
		}
	}
	return lost, nil
}
