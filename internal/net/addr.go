package net

import (
	"fmt"
	"net"
)

// EphemeralLocalAddr returns a loopback "host:port" address whose port was free when this was called.
func EphemeralLocalAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
