package relay

// Package relay implements the loopback pairing server that carries the aux
// node's RPC traffic.
//
// The RPC client library can only dial a plain TCP endpoint, so the relay
// listens on a random loopback port and pairs every accepted connection with
// a freshly dialed upstream connection to the real node (directly or through
// a SOCKS5 proxy). Bytes are forwarded unmodified in both directions.
//
// All pairing state lives in an arena of reusable slots addressed by
// generation-stamped handles and is owned by a single event-loop goroutine;
// reader and writer goroutines only move bytes and report back over channels.
