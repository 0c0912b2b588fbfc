//go:build windows

package admin

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// Listen opens the admin endpoint as a named pipe.
func Listen(socket string) (net.Listener, error) {
	return winio.ListenPipe(socket, &winio.PipeConfig{
		// Restrict to the local SYSTEM account and administrators.
		SecurityDescriptor: "D:P(A;;GA;;;SY)(A;;GA;;;BA)",
	})
}

func dial(socket string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(socket, &timeout)
}
