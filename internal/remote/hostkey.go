package remote

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService    = "botster-remote"
	pairingTokenBytes = 32
)

// shouldSkipKeyring mirrors device.go's test-mode escape hatch: integration
// tests (and CI, and any environment without a usable OS keyring) set
// BOTSTER_CONFIG_DIR or BOTSTER_SKIP_KEYRING to fall back to a plain file.
func shouldSkipKeyring() bool {
	if v := os.Getenv("BOTSTER_SKIP_KEYRING"); v == "1" || strings.EqualFold(v, "true") {
		return true
	}
	_, hasConfigDir := os.LookupEnv("BOTSTER_CONFIG_DIR")
	return hasConfigDir
}

func tokenFilePath(projectID string) (string, error) {
	dir := os.Getenv("BOTSTER_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("remote: home dir: %w", err)
		}
		dir = filepath.Join(home, ".botster", "remote")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("remote: create token dir: %w", err)
	}
	return filepath.Join(dir, projectID+".pairing_token"), nil
}

// NewPairingToken generates a fresh random pairing token for a remote
// bridge instance. It does not persist it; call StorePairingToken to do
// that.
func NewPairingToken() (string, error) {
	buf := make([]byte, pairingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("remote: generate pairing token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// StorePairingToken persists a bridge's pairing token outside the process,
// in the OS keyring by default (spec §9's narrow call-out to a secure-value
// store collaborator for exactly this), falling back to a 0600 file when
// the environment can't use one.
func StorePairingToken(projectID, token string) error {
	if shouldSkipKeyring() {
		path, err := tokenFilePath(projectID)
		if err != nil {
			return err
		}
		return os.WriteFile(path, []byte(token), 0600)
	}
	if err := keyring.Set(keyringService, projectID, token); err != nil {
		return fmt.Errorf("remote: store pairing token in keyring: %w", err)
	}
	return nil
}

// LoadPairingToken retrieves a previously stored pairing token for
// projectID, or an error if none exists.
func LoadPairingToken(projectID string) (string, error) {
	if shouldSkipKeyring() {
		path, err := tokenFilePath(projectID)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("remote: pairing token not found: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	token, err := keyring.Get(keyringService, projectID)
	if err != nil {
		return "", fmt.Errorf("remote: pairing token not found in keyring: %w", err)
	}
	return token, nil
}

// ClearPairingToken removes a stored pairing token, e.g. when a bridge is
// torn down.
func ClearPairingToken(projectID string) error {
	if shouldSkipKeyring() {
		path, err := tokenFilePath(projectID)
		if err != nil {
			return err
		}
		err = os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	err := keyring.Delete(keyringService, projectID)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("remote: clear pairing token: %w", err)
	}
	return nil
}
