package relay

import (
	"net"
	"time"

	"github.com/hashpool/mergemine/internal/dialer"
)

type Config struct {
	// Target is the "host:port" of the real aux node.
	Target string

	// Dialer establishes the upstream leg (direct or SOCKS5).
	Dialer dialer.Dialer

	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// WriteQueueLen bounds the per-connection queue of pending forwarded
	// buffers. A read that finds its partner's queue full fails and tears
	// the pair down instead of blocking the event loop.
	WriteQueueLen int

	// BufferSize is the size of pooled read buffers.
	BufferSize int

	Verbose bool
}

const (
	defaultDialTimeout   = 10 * time.Second
	defaultWriteQueueLen = 32
	defaultBufferSize    = 64 << 10
)

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteQueueLen <= 0 {
		c.WriteQueueLen = defaultWriteQueueLen
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}
