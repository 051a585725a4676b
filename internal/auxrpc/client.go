package auxrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// PowAlgo identifies the proof-of-work algorithm requested in a template.
type PowAlgo string

// PowAlgoRandomX is the algorithm used for merge mining.
const PowAlgoRandomX PowAlgo = "randomx"

type Client struct {
	url string
	hc  *http.Client
	id  atomic.Int64
}

// New returns a client that sends JSON-RPC requests to addr ("host:port").
// The channel is plain HTTP: addr is always the loopback relay, so traffic
// never leaves the host unproxied.
func New(addr string, timeout time.Duration) *Client {
	return &Client{
		url: "http://" + addr + "/json_rpc",
		hc:  &http.Client{Timeout: timeout},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.id.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%s: %w", method, r.Error)
	}
	if result == nil {
		return nil
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(r.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

type templateParams struct {
	Algo      algoParam `json:"algo"`
	MaxWeight uint64    `json:"max_weight"`
}

type algoParam struct {
	PowAlgo PowAlgo `json:"pow_algo"`
}

// GetNewBlockTemplate requests a fresh block template. The caller passes a
// minimal max weight because the template is only used to derive the chain
// id, never to mine.
func (c *Client) GetNewBlockTemplate(ctx context.Context, algo PowAlgo, maxWeight uint64) (json.RawMessage, error) {
	var res struct {
		NewBlockTemplate json.RawMessage `json:"new_block_template"`
	}
	if err := c.call(ctx, "get_new_block_template", templateParams{
		Algo:      algoParam{PowAlgo: algo},
		MaxWeight: maxWeight,
	}, &res); err != nil {
		return nil, err
	}
	if len(res.NewBlockTemplate) == 0 {
		return nil, errors.New("get_new_block_template: empty template")
	}
	return res.NewBlockTemplate, nil
}

// NewBlock is the node's materialized block for a given template.
type NewBlock struct {
	Block    json.RawMessage
	UniqueID []byte
}

// GetNewBlock turns a template into a block result carrying the node's
// unique chain id (hex on the wire).
func (c *Client) GetNewBlock(ctx context.Context, template json.RawMessage) (*NewBlock, error) {
	var res struct {
		Block    json.RawMessage `json:"block"`
		UniqueID string          `json:"unique_id"`
	}
	if err := c.call(ctx, "get_new_block", template, &res); err != nil {
		return nil, err
	}

	id, err := hex.DecodeString(res.UniqueID)
	if err != nil {
		return nil, fmt.Errorf("get_new_block: invalid unique_id %q: %w", res.UniqueID, err)
	}

	return &NewBlock{Block: res.Block, UniqueID: id}, nil
}
