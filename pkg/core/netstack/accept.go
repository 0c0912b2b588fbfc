package netstack

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
)

// acceptLoop serves inbound meta-channels on one listener until it closes.
func (s *Stack) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			zap.L().Warn("accept failed",
				zap.String("addr", ln.Addr().String()), zap.Error(err))
			continue
		}
		zap.L().Debug("inbound connection",
			zap.String("host", nc.RemoteAddr().String()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runConn(nc, nil, "")
		}()
	}
}
