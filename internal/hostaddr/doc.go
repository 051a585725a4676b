package hostaddr

// Package hostaddr parses the configured aux-chain node address.
//
// Addresses use a required "aux://" prefix followed by host[:port] and any
// number of trailing slashes, which are ignored. The result is a single
// concrete (family, host, port) triple used to dial the node's RPC port.
