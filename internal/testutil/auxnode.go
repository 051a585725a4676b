package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// FakeAuxNode is a minimal JSON-RPC aux node: it hands out a canned block
// template and answers get_new_block with the configured unique id.
type FakeAuxNode struct {
	*httptest.Server

	// UniqueID is returned verbatim in get_new_block results.
	UniqueID string

	// LastBlockParams records the params of the most recent get_new_block
	// call, so tests can assert the template round-tripped.
	LastBlockParams json.RawMessage
}

const fakeTemplate = `{"header":{"height":12345},"body":{}}`

// StartFakeAuxNode serves JSON-RPC on a loopback port until test cleanup.
func StartFakeAuxNode(t *testing.T, uniqueID string) *FakeAuxNode {
	t.Helper()

	n := &FakeAuxNode{UniqueID: uniqueID}

	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result any
		switch req.Method {
		case "get_new_block_template":
			result = map[string]json.RawMessage{
				"new_block_template": json.RawMessage(fakeTemplate),
			}
		case "get_new_block":
			n.LastBlockParams = req.Params
			result = map[string]any{
				"block":     map[string]any{"header": map[string]any{}},
				"unique_id": n.UniqueID,
			}
		default:
			writeRPCError(w, req.ID, -32601, "method not found")
			return
		}

		writeRPCResult(w, req.ID, result)
	}))
	t.Cleanup(n.Server.Close)

	return n
}

// Addr returns the node's "host:port".
func (n *FakeAuxNode) Addr() string {
	return n.Listener.Addr().String()
}

func writeRPCResult(w http.ResponseWriter, id int64, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func writeRPCError(w http.ResponseWriter, id int64, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": msg},
	})
}
