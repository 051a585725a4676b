package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashpool/mergemine/internal/dialer"
	"github.com/hashpool/mergemine/internal/testutil"
)

func newTestServer(t *testing.T, target string) *Server {
	t.Helper()

	srv := NewServer(Config{
		Target:      target,
		Dialer:      dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
		DialTimeout: 2 * time.Second,
	})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Shutdown)

	return srv
}

func dialRelay(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestStartPicksEphemeralPort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	echoLn := testutil.StartEchoTCPServer(t, ctx)

	srv := newTestServer(t, echoLn.Addr().String())

	if p := srv.Port(); p < loPort || p >= loPort+portSpan {
		t.Fatalf("port %d outside [%d,%d)", p, loPort, loPort+portSpan)
	}
}

func TestStartRetriesBind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	echoLn := testutil.StartEchoTCPServer(t, ctx)

	srv := NewServer(Config{
		Target: echoLn.Addr().String(),
		Dialer: dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
	})

	attempts := 0
	srv.listen = func(addr string) (net.Listener, error) {
		attempts++
		if attempts <= 3 {
			return nil, errors.New("address already in use")
		}
		return listenLoopback(addr)
	}

	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()

	if attempts != 4 {
		t.Fatalf("got %d bind attempts, want 4", attempts)
	}
}

func TestStartGivesUpAfterTenAttempts(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{
		Target: "127.0.0.1:1",
		Dialer: dialer.NewDirectDialer(dialer.Config{}),
	})

	attempts := 0
	srv.listen = func(string) (net.Listener, error) {
		attempts++
		return nil, errors.New("address already in use")
	}

	if err := srv.Start(); err == nil {
		t.Fatal("expected error")
	}
	if attempts != bindAttempts {
		t.Fatalf("got %d bind attempts, want %d", attempts, bindAttempts)
	}
}

func TestStartRequiresDialerAndTarget(t *testing.T) {
	t.Parallel()

	if err := NewServer(Config{}).Start(); err == nil {
		t.Fatal("expected error")
	}
}

func TestForwardEcho(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	echoLn := testutil.StartEchoTCPServer(t, ctx)
	srv := newTestServer(t, echoLn.Addr().String())

	// From one byte up to several times the pooled read buffer size, bytes
	// must come back unmodified and in order.
	for _, size := range []int{1, 2, 1000, defaultBufferSize, 3*defaultBufferSize + 17} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			c := dialRelay(t, srv)

			msg := make([]byte, size)
			for i := range msg {
				msg[i] = byte(i * 31)
			}

			var wg sync.WaitGroup
			wg.Go(func() {
				_, _ = c.Write(msg)
			})

			got := make([]byte, size)
			if _, err := io.ReadFull(c, got); err != nil {
				t.Fatal(err)
			}
			wg.Wait()

			for i := range got {
				if got[i] != msg[i] {
					t.Fatalf("byte %d: got %#x want %#x", i, got[i], msg[i])
				}
			}
		})
	}
}

func TestUpstreamConnectFailureClosesDownstream(t *testing.T) {
	t.Parallel()

	// A listener that is opened and immediately closed yields an address
	// that refuses connections.
	lc := net.ListenConfig{}
	deadLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := deadLn.Addr().String()
	_ = deadLn.Close()

	srv := newTestServer(t, deadAddr)

	c := dialRelay(t, srv)
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected downstream to be closed")
	}
}

func TestPairTeardownLeavesOthersAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	echoLn := testutil.StartEchoTCPServer(t, ctx)
	srv := newTestServer(t, echoLn.Addr().String())

	a := dialRelay(t, srv)
	b := dialRelay(t, srv)

	testutil.AssertEcho(t, a, a, []byte("first"))
	testutil.AssertEcho(t, b, b, []byte("second"))

	// Dropping one pair must not disturb the other, and the server must
	// keep accepting.
	_ = a.Close()

	testutil.AssertEcho(t, b, b, []byte("still here"))

	c := dialRelay(t, srv)
	testutil.AssertEcho(t, c, c, []byte("newcomer"))
}

func TestShutdownClosesConnections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	echoLn := testutil.StartEchoTCPServer(t, ctx)
	srv := newTestServer(t, echoLn.Addr().String())

	c := dialRelay(t, srv)
	testutil.AssertEcho(t, c, c, []byte("ping"))

	srv.Shutdown()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after shutdown")
	}

	// Shutdown is idempotent.
	srv.Shutdown()
}

func TestWriteQueueOverflowDropsOnlyItsPair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// The first upstream connection never reads, so forwarded buffers back
	// up behind it; later connections echo normally.
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	stall := make(chan struct{})
	t.Cleanup(func() {
		close(stall)
		_ = ln.Close()
	})
	go func() {
		first := true
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			if first {
				first = false
				go func() {
					<-stall
					_ = c.Close()
				}()
				continue
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	srv := NewServer(Config{
		Target:        ln.Addr().String(),
		Dialer:        dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
		DialTimeout:   2 * time.Second,
		WriteQueueLen: 1,
	})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Shutdown)

	flood := dialRelay(t, srv)

	chunk := make([]byte, 32<<10)
	go func() {
		for range 4096 {
			if _, err := flood.Write(chunk); err != nil {
				return
			}
		}
	}()

	// Nothing ever comes back from the stalled upstream, so a read only
	// returns once the overflowing pair has been torn down. A timeout means
	// the downstream was left open.
	_ = flood.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 1)
	_, rerr := flood.Read(buf)
	if rerr == nil {
		t.Fatal("unexpected bytes from stalled upstream")
	}
	var ne net.Error
	if errors.As(rerr, &ne) && ne.Timeout() {
		t.Fatal("flooded pair was not torn down")
	}

	// Only the overflowing pair is affected; a fresh pair still echoes.
	c := dialRelay(t, srv)
	testutil.AssertEcho(t, c, c, []byte("unaffected"))
}

func TestSOCKS5Upstream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	proxyLn, waitProxy := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = testutil.ServeSOCKS5Connect(ctx, c, "", "")
	})

	srv := NewServer(Config{
		Target: echoLn.Addr().String(),
		Dialer: dialer.NewSOCKS5ProxyDialer(dialer.Config{DialTimeout: 2 * time.Second},
			proxyLn.Addr().String(), "", ""),
		DialTimeout: 2 * time.Second,
	})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()

	c := dialRelay(t, srv)
	testutil.AssertEcho(t, c, c, []byte("through the proxy"))

	_ = c.Close()
	waitProxy()
}
