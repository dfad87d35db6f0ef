package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	gossh "golang.org/x/crypto/ssh"
)

// loadOrCreateHostSigner loads an ed25519 SSH host key from stateDir,
// generating and persisting one on first use. A stable host key lets
// returning clients notice (rather than silently accept) a changed
// identity, the same guarantee sshd gives for /etc/ssh/ssh_host_*_key.
func loadOrCreateHostSigner(stateDir string) (gossh.Signer, error) {
	path := filepath.Join(stateDir, "host_ed25519")

	if raw, err := os.ReadFile(path); err == nil {
		key, err := gossh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("remote: parse host key: %w", err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("remote: read host key: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("remote: generate host key: %w", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "botster-remote host key")
	if err != nil {
		return nil, fmt.Errorf("remote: marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("remote: persist host key: %w", err)
	}

	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("remote: sign host key: %w", err)
	}
	return signer, nil
}
