package utils

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/ksdme/mailvault/internal/config"
	"github.com/muesli/termenv"
	gossh "golang.org/x/crypto/ssh"
)

// Builds the model served to a single ssh session.
type SessionHandler func(session ssh.Session, renderer *lipgloss.Renderer) tea.Model

// Sets up an ssh server that runs a bubble tea program per session.
// Without an authorized keys file every public key is let in, the
// login user name alone decides what is shown.
func NewSSHServer(handler SessionHandler) (*ssh.Server, error) {
	options := []ssh.Option{
		wish.WithAddress(config.Core.SSHBindAddr),
		wish.WithHostKeyPath(config.Core.SSHHostKeyPath),
		wish.WithMiddleware(
			bubbletea.MiddlewareWithColorProfile(func(session ssh.Session) (tea.Model, []tea.ProgramOption) {
				slog.Info(
					"serving session",
					"user", session.User(),
					"remote", session.RemoteAddr().String(),
					"key", KeyFingerprint(session.PublicKey()),
				)

				renderer := bubbletea.MakeRenderer(session)
				return handler(session, renderer), []tea.ProgramOption{tea.WithAltScreen()}
			}, termenv.ANSI),
		),
	}

	if config.Core.SSHAuthorizedKeysPath != "" {
		options = append(options, wish.WithAuthorizedKeys(config.Core.SSHAuthorizedKeysPath))
	} else {
		options = append(options, wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			return true
		}))
	}

	return wish.NewServer(options...)
}

// The SHA256 fingerprint of a public key, empty when there is none.
func KeyFingerprint(key gossh.PublicKey) string {
	if key == nil {
		return ""
	}
	return gossh.FingerprintSHA256(key)
}
