package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SocketPath returns the Unix socket path for a pane under the runtime
// directory. Pane IDs are sanitized so a hostile pane name cannot escape
// the directory.
func SocketPath(runtimeDir, paneID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, paneID)
	return filepath.Join(runtimeDir, safe+".sock")
}

// EnsureRuntimeDir creates the runtime directory with owner-only
// permissions. Sockets grant IPC access to the agent processes, so the
// directory must not be group or world accessible.
func EnsureRuntimeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating runtime dir %s: %w", dir, err)
	}
	return nil
}
