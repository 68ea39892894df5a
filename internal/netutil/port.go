package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// StatusCandidates are tried in order when the configured status address
// is busy.
var StatusCandidates = []string{"127.0.0.1:8190", "127.0.0.1:8191", "127.0.0.1:8192"}

// Listen opens a TCP listener on preferred, or on the first free candidate
// when preferred is empty or, with autoFallback, already in use. Holding
// the listener avoids the gap between probing a port and binding it.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback || !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("status bind address %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
	}

	return nil, errors.New("no available status bind addresses")
}
