//go:build windows

package config

// DefaultAdminSocket is the control pipe name used when none is configured.
func DefaultAdminSocket() string {
	return `\\.\pipe\tincd`
}
