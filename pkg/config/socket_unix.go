//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

// DefaultAdminSocket is the control socket path used when none is
// configured.
func DefaultAdminSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tincd.sock")
	}
	return "/var/run/tincd.sock"
}
