package auxrpc

// Package auxrpc is a minimal JSON-RPC client for the aux-chain node.
//
// Only the two calls needed to learn the chain identifier are implemented:
// fetching a block template for a fixed proof-of-work algorithm, and turning
// that template into a block result carrying the node's unique chain id.
// The client always dials the local relay, never the node itself.
