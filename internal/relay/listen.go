package relay

import (
	"context"
	"fmt"
	"net"
)

// listenLoopback binds addr with SO_REUSEADDR set (where supported) so a
// recently released relay port can be picked again without waiting out
// TIME_WAIT.
func listenLoopback(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return ln, nil
}

func applyKeepAlive(c net.Conn, ka net.KeepAliveConfig) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(ka)
	}
}
