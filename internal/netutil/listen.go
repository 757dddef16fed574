package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoAddress is returned when neither the preferred address nor any
// candidate could be bound.
var ErrNoAddress = errors.New("netutil: no bindable address")

// Listen binds preferred, then each candidate in order when fallback is on.
// The returned listener is already open so the port cannot be taken between
// selection and serving.
func Listen(preferred string, candidates []string, fallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !fallback {
			return nil, fmt.Errorf("netutil: bind %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying fallbacks", "addr", preferred, "error", err)
	}

	for _, addr := range candidates {
		if addr == "" || addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}
	return nil, ErrNoAddress
}
