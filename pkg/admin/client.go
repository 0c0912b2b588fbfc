package admin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Request dials the admin endpoint at socket, runs one command, and returns
// the reply body with its content type.
func Request(socket, command string) (body []byte, contentType string, err error) {
	conn, err := dial(socket, 5*time.Second)
	if err != nil {
		return nil, "", fmt.Errorf("dial admin socket: %w", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return nil, "", fmt.Errorf("send command: %w", err)
	}
	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return nil, "", fmt.Errorf("read reply: %w", err)
	}
	status = strings.TrimSuffix(status, "\n")
	switch {
	case strings.HasPrefix(status, "err "):
		return nil, "", fmt.Errorf("daemon: %s", strings.TrimPrefix(status, "err "))
	case strings.HasPrefix(status, "ok "):
		parts := strings.Fields(status)
		if len(parts) != 3 {
			return nil, "", fmt.Errorf("malformed reply %q", status)
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("malformed reply length %q", parts[2])
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, "", fmt.Errorf("read reply body: %w", err)
		}
		return body, parts[1], nil
	default:
		return nil, "", fmt.Errorf("malformed reply %q", status)
	}
}
