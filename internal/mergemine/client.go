package mergemine

import (
	"context"
	"fmt"
	"log"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/hashpool/mergemine/internal/auxrpc"
	"github.com/hashpool/mergemine/internal/dialer"
	"github.com/hashpool/mergemine/internal/hostaddr"
	"github.com/hashpool/mergemine/internal/relay"
)

type Config struct {
	// Host is the aux node address, "aux://host[:port]".
	Host string

	// Upstream selects the outbound leg: "direct://" or
	// "socks5://[user:pass@]host:port".
	Upstream string

	// Resolve enables DNS resolution of the configured host at construction.
	Resolve bool

	DialTimeout time.Duration
	RPCTimeout  time.Duration
	KeepAlive   net.KeepAliveConfig
	Verbose     bool
}

const (
	defaultDialTimeout = 10 * time.Second
	defaultRPCTimeout  = 30 * time.Second
)

// Client integrates one aux chain into the pool. Construction is fatal on a
// malformed host, an unusable relay port, or a bad upstream configuration;
// everything after that surfaces only through Params staying absent.
type Client struct {
	cfg  Config
	host string
	addr hostaddr.Spec

	relay *relay.Server
	node  *auxrpc.Client

	mu     sync.RWMutex
	params ChainParams

	fetchDone chan struct{}
	closeOnce sync.Once
}

// New parses and resolves the configured host, starts the loopback relay,
// points an RPC channel at it, and kicks off the one-shot chain-id fetch.
func New(cfg Config) (*Client, error) {
	if cfg.Upstream == "" {
		cfg.Upstream = "direct://"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}

	addr, err := hostaddr.Parse(cfg.Host, cfg.Resolve)
	if err != nil {
		return nil, err
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout: cfg.DialTimeout,
		KeepAlive:   cfg.KeepAlive,
	}, cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	c := &Client{
		cfg:  cfg,
		host: cfg.Host,
		addr: addr,
		relay: relay.NewServer(relay.Config{
			Target:      addr.HostPort(),
			Dialer:      d,
			DialTimeout: cfg.DialTimeout,
			KeepAlive:   cfg.KeepAlive,
			Verbose:     cfg.Verbose,
		}),
		fetchDone: make(chan struct{}),
	}

	if err := c.relay.Start(); err != nil {
		return nil, err
	}

	c.node = auxrpc.New(fmt.Sprintf("127.0.0.1:%d", c.relay.Port()), cfg.RPCTimeout)

	go c.fetchChainID()

	return c, nil
}

// fetchChainID runs once in the background: one template call, one block
// call, then publish the id if and only if it is exactly HashSize bytes.
// There is no retry; a failure leaves Params absent for the client's
// lifetime.
func (c *Client) fetchChainID() {
	defer close(c.fetchDone)

	ctx := context.Background()

	tmpl, err := c.node.GetNewBlockTemplate(ctx, auxrpc.PowAlgoRandomX, 1)
	if err != nil {
		log.Printf("mergemine: %s: %v", c.host, err)
		return
	}

	blk, err := c.node.GetNewBlock(ctx, tmpl)
	if err != nil {
		log.Printf("mergemine: %s: %v", c.host, err)
		return
	}

	id := blk.UniqueID
	log.Printf("mergemine: %s uses chain_id %x", c.host, id)

	if len(id) != HashSize {
		log.Printf("mergemine: %s: unique_id has invalid size (%d)", c.host, len(id))
		return
	}

	c.mu.Lock()
	copy(c.params.AuxID[:], id)
	c.mu.Unlock()
}

// Params returns a snapshot of the chain parameters, or false while either
// field is still unset. The copy is taken under the read lock so callers
// never observe a half-written combination.
func (c *Client) Params() (ChainParams, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.params.valid() {
		return ChainParams{}, false
	}

	out := c.params
	out.AuxDiff = slices.Clone(c.params.AuxDiff)
	return out, true
}

// SetAuxDiff publishes the aux chain difficulty. It arrives on a separate
// path from the chain id; parameters stay absent until both are present.
func (c *Client) SetAuxDiff(d []byte) {
	c.mu.Lock()
	c.params.AuxDiff = slices.Clone(d)
	c.mu.Unlock()
}

// SubmitSolution accepts a found aux block and its merkle proof. Sending the
// block upstream is not implemented yet; the call shape exists so the pool's
// share pipeline can hand solutions over.
func (c *Client) SubmitSolution(blob []byte, merkleProof [][HashSize]byte) {
	if c.cfg.Verbose {
		log.Printf("mergemine: %s: solution submitted, blob %d bytes, proof depth %d", c.host, len(blob), len(merkleProof))
	}
}

// Close waits for the in-flight chain-id fetch and then shuts the relay
// down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		<-c.fetchDone
		c.relay.Shutdown()
		log.Printf("mergemine: %s: stopped", c.host)
	})
}
