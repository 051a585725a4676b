package mergemine

// Package mergemine implements the aux-chain merge-mining client.
//
// The client starts a loopback relay in front of the remote node (so the RPC
// channel can be routed through SOCKS5), fetches the chain's 32-byte
// identifier once in the background, and publishes chain parameters to the
// rest of the pool behind a read/write lock. Parameters read as absent until
// both the chain id and the aux difficulty have been set.
