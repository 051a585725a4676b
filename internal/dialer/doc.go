package dialer

// Package dialer provides outbound dialing for the relay's upstream leg.
//
// Dialers implement a small interface (DialContext) and connect to the aux
// node either directly or through an upstream SOCKS5 proxy.
