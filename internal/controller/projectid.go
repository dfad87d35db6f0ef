package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// ProjectID derives a stable identifier for a worktree from its canonical
// path, so the same worktree gets the same id across controller restarts.
//
// This finishes a TODO the reference hub left behind (hub.go's
// generateHubID: "Generate from repo path hash for persistence across
// restarts", which in the meantime just stamped time.Now().UnixNano()), and
// borrows its truncate-a-sha256-digest shape from device.go's
// ComputeFingerprint — but returns plain hex rather than a colon-grouped
// fingerprint, since this id is consumed by code, not read by a human
// verifying a pairing screen.
func ProjectID(worktreePath string) string {
	abs, err := filepath.Abs(worktreePath)
	if err != nil {
		abs = worktreePath
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}
