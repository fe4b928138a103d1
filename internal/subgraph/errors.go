package subgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for a service.
	ErrNoEndpoints = errors.New("subgraph: no endpoints available")
	// ErrClosed is returned by calls on a closed Transport.
	ErrClosed = errors.New("subgraph: transport closed")
)

// StatusError reports a non-2xx HTTP answer from a downstream service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subgraph %s: unexpected status %d: %s", e.Service, e.Code, e.Body)
}
