//go:build !windows

package admin

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Listen opens the admin endpoint as a unix socket, replacing a stale socket
// file left by a previous run.
func Listen(socket string) (net.Listener, error) {
	if _, err := os.Stat(socket); err == nil {
		// Refuse to steal the socket from a live daemon.
		if conn, err := net.DialTimeout("unix", socket, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("admin socket %s is in use", socket)
		}
		if err := os.Remove(socket); err != nil {
			return nil, fmt.Errorf("remove stale admin socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat admin socket: %w", err)
	}
	ln, err := net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("listen admin socket: %w", err)
	}
	_ = os.Chmod(socket, 0o600)
	return ln, nil
}

func dial(socket string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socket, timeout)
}
