package meta

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// maxLineLen bounds a single request line. A peer that exceeds it is framed
// wrong and the channel is torn down.
const maxLineLen = 4096

// ReadLoop decodes the inbound byte stream: request lines, interleaved with
// raw payload runs whenever a handler has declared a pending trailing
// payload length. handle returns the continuation signal (false tears the
// channel down); data consumes one complete fallback payload.
//
// ReadLoop returns nil when handle asked for teardown and the transport
// error otherwise.
func (c *Conn) ReadLoop(handle func(line string) bool, data func(payload []byte)) error {
	br := bufio.NewReaderSize(c.nc, maxLineLen)
	for {
		if n := c.PendingPayload; n > 0 {
			payload := make([]byte, n)
			if _, err := io.ReadFull(br, payload); err != nil {
				return fmt.Errorf("read fallback payload: %w", err)
			}
			c.PendingPayload = 0
			data(payload)
			continue
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}
		if len(line) >= maxLineLen {
			return fmt.Errorf("request line exceeds %d bytes", maxLineLen)
		}
		if !handle(line) {
			return nil
		}
	}
}

// WriteLoop drains the output queue to the network until the queue closes or
// a write fails. Run it on its own goroutine per connection.
func (c *Conn) WriteLoop() {
	for {
		b, ok := c.q.Pop()
		if !ok {
			return
		}
		if c.limit != nil {
			for {
				ok, wait := c.limit.Allow(int64(len(b)))
				if ok {
					break
				}
				time.Sleep(wait)
			}
		}
		if _, err := c.nc.Write(b); err != nil {
			zap.L().Debug("meta write failed",
				zap.String("peer", c.Hostname), zap.Error(err))
			_ = c.nc.Close()
			return
		}
	}
}
