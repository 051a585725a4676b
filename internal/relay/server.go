package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	bindAttempts = 10
	loPort       = 49152
	portSpan     = 16384
)

// Server owns the loopback listener and the arena of paired connections.
//
// Start and Shutdown may be called from any goroutine; everything else runs
// on the event-loop goroutine.
type Server struct {
	cfg  Config
	bufs *bufferPool

	// listen is swapped out by tests to simulate bind failures.
	listen func(addr string) (net.Listener, error)

	ln   net.Listener
	port int

	arena arena

	acceptCh chan net.Conn
	dialCh   chan dialResult
	readCh   chan readEvent
	closeCh  chan handle
	stopCh   chan struct{}

	g        errgroup.Group
	workers  sync.WaitGroup
	stopOnce sync.Once
}

type dialResult struct {
	down handle
	conn net.Conn
	err  error
}

type readEvent struct {
	from handle
	buf  []byte
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()

	return &Server{
		cfg:      cfg,
		bufs:     newBufferPool(cfg.BufferSize),
		listen:   listenLoopback,
		acceptCh: make(chan net.Conn),
		dialCh:   make(chan dialResult),
		readCh:   make(chan readEvent),
		closeCh:  make(chan handle),
		stopCh:   make(chan struct{}),
	}
}

// Start binds a random loopback port and starts the accept and event-loop
// goroutines. Up to 10 candidate ports in [49152,65536) are tried before
// giving up.
func (s *Server) Start() error {
	if s.cfg.Dialer == nil || s.cfg.Target == "" {
		return errors.New("relay: dialer and target are required")
	}

	var lastErr error
	for range bindAttempts {
		port := loPort + rand.IntN(portSpan)
		ln, err := s.listen(fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		s.ln = ln
		s.port = ln.Addr().(*net.TCPAddr).Port
		break
	}
	if s.ln == nil {
		return fmt.Errorf("relay: no loopback port available: %w", lastErr)
	}

	s.g.Go(s.acceptLoop)
	s.g.Go(s.run)

	return nil
}

// Port returns the bound loopback port. Valid after Start succeeds.
func (s *Server) Port() int {
	return s.port
}

// Shutdown stops the listener, closes every live connection and waits for
// the event loop and all per-connection goroutines to exit. Idempotent.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
	_ = s.g.Wait()
	s.workers.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return fmt.Errorf("relay accept: %w", err)
			}
		}
		applyKeepAlive(c, s.cfg.KeepAlive)

		select {
		case s.acceptCh <- c:
		case <-s.stopCh:
			_ = c.Close()
			return nil
		}
	}
}

// run is the event loop. It is the only goroutine that touches the arena.
func (s *Server) run() error {
	for {
		select {
		case c := <-s.acceptCh:
			s.onAccept(c)
		case r := <-s.dialCh:
			s.onDialed(r)
		case ev := <-s.readCh:
			s.onRead(ev)
		case h := <-s.closeCh:
			s.teardown(h)
		case <-s.stopCh:
			s.closeAll()
			return nil
		}
	}
}

func (s *Server) onAccept(c net.Conn) {
	h := s.arena.alloc()
	sl := s.arena.slots[h.idx]
	sl.role = roleDownstream
	sl.conn = c
	sl.addr = c.RemoteAddr().String()

	if s.cfg.Verbose {
		log.Printf("relay: accepted %s, connecting to %s", sl.addr, s.cfg.Target)
	}

	s.dialUpstream(h)
}

// dialUpstream runs the (blocking) upstream dial on its own goroutine and
// reports back to the event loop.
func (s *Server) dialUpstream(down handle) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		defer cancel()

		c, err := s.cfg.Dialer.DialContext(ctx, "tcp", s.cfg.Target)

		select {
		case s.dialCh <- dialResult{down: down, conn: c, err: err}:
		case <-s.stopCh:
			if c != nil {
				_ = c.Close()
			}
		}
	}()
}

// onDialed links the pair once the upstream leg is up. The downstream's
// reader is only started here, so no bytes are forwarded toward a half-open
// upstream.
func (s *Server) onDialed(r dialResult) {
	dn, ok := s.arena.get(r.down)
	if !ok {
		// Downstream was torn down while the dial was in flight.
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}

	if r.err != nil {
		if s.cfg.Verbose {
			log.Printf("relay: connect %s: %v", s.cfg.Target, r.err)
		}
		s.teardown(r.down)
		return
	}
	applyKeepAlive(r.conn, s.cfg.KeepAlive)

	uh := s.arena.alloc()
	up := s.arena.slots[uh.idx]
	up.role = roleUpstream
	up.conn = r.conn
	up.addr = s.cfg.Target

	// Each side stores the other's handle, which carries the partner's
	// generation as observed right now.
	dn.partner = uh
	up.partner = r.down

	s.startPump(r.down, dn)
	s.startPump(uh, up)
}

func (s *Server) startPump(h handle, sl *slot) {
	sl.wq = make(chan []byte, s.cfg.WriteQueueLen)

	s.workers.Add(2)
	go s.readLoop(h, sl.conn)
	go s.writeLoop(h, sl.conn, sl.wq)
}

func (s *Server) readLoop(h handle, c net.Conn) {
	defer s.workers.Done()

	for {
		buf := s.bufs.Get()
		n, err := c.Read(buf)
		if n > 0 {
			select {
			case s.readCh <- readEvent{from: h, buf: buf[:n]}:
			case <-s.stopCh:
				s.bufs.Put(buf)
				return
			}
		} else {
			s.bufs.Put(buf)
		}
		if err != nil {
			select {
			case s.closeCh <- h:
			case <-s.stopCh:
			}
			return
		}
	}
}

func (s *Server) writeLoop(h handle, c net.Conn, wq chan []byte) {
	defer s.workers.Done()

	for buf := range wq {
		_, err := c.Write(buf)
		s.bufs.Put(buf)
		if err != nil {
			select {
			case s.closeCh <- h:
			case <-s.stopCh:
			}
			// The queue is closed when the slot is released; recycle
			// whatever was still pending.
			for buf := range wq {
				s.bufs.Put(buf)
			}
			return
		}
	}
}

// onRead forwards one read toward the partner. The read is rejected and the
// pair torn down if the originating slot was recycled, the connection is
// unpaired, the stored partner handle went stale, or the partner's write
// queue cannot accept the buffer.
func (s *Server) onRead(ev readEvent) {
	sl, ok := s.arena.get(ev.from)
	if !ok {
		s.bufs.Put(ev.buf)
		return
	}

	p, ok := s.arena.get(sl.partner)
	if !ok {
		s.bufs.Put(ev.buf)
		s.teardown(ev.from)
		return
	}

	select {
	case p.wq <- ev.buf:
	default:
		if s.cfg.Verbose {
			log.Printf("relay: %s: partner write queue full, dropping pair", sl.addr)
		}
		s.bufs.Put(ev.buf)
		s.teardown(ev.from)
	}
}

// teardown closes and releases a connection and, if it is still paired, its
// partner. Calling it again with the same handle is a no-op because the
// generation no longer matches.
func (s *Server) teardown(h handle) {
	sl, ok := s.arena.get(h)
	if !ok {
		return
	}

	if p, ok := s.arena.get(sl.partner); ok {
		ph := sl.partner
		p.partner = noPartner
		s.releaseSlot(ph, p)
	}

	sl.partner = noPartner
	s.releaseSlot(h, sl)
}

func (s *Server) releaseSlot(h handle, sl *slot) {
	if sl.conn != nil {
		_ = sl.conn.Close()
	}
	if sl.wq != nil {
		close(sl.wq)
	}
	s.arena.release(h)
}

func (s *Server) closeAll() {
	for _, h := range s.arena.liveHandles() {
		sl := s.arena.slots[h.idx]
		sl.partner = noPartner
		s.releaseSlot(h, sl)
	}
}
