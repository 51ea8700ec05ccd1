package utils

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/ksdme/mailvault/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func TestKeyFingerprint(t *testing.T) {
	assert.Empty(t, KeyFingerprint(nil))

	public, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := gossh.NewPublicKey(public)
	require.NoError(t, err)

	fingerprint := KeyFingerprint(key)
	assert.True(t, strings.HasPrefix(fingerprint, "SHA256:"), fingerprint)
	assert.Equal(t, fingerprint, KeyFingerprint(key))
}

func TestNewSSHServer(t *testing.T) {
	previous := config.Core
	t.Cleanup(func() { config.Core = previous })

	config.Core.SSHBindAddr = "127.0.0.1:0"
	config.Core.SSHHostKeyPath = filepath.Join(t.TempDir(), "host_key")
	config.Core.SSHAuthorizedKeysPath = ""

	server, err := NewSSHServer(func(session ssh.Session, renderer *lipgloss.Renderer) tea.Model {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", server.Addr)
	assert.NotNil(t, server.PublicKeyHandler)
	assert.FileExists(t, config.Core.SSHHostKeyPath)
}
