package registry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateService  = errors.New("registry: service already registered")
	ErrUnknownService    = errors.New("registry: unknown service")
	ErrInvalidDescriptor = errors.New("registry: invalid service descriptor")
)

// Health is the polling state of one service.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnreachable
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthUnreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// MarshalText renders the health as its name.
func (h Health) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// ServiceDescriptor registers one downstream service.
type ServiceDescriptor struct {
	Name string
	URL  string
	// PollInterval overrides the registry default when positive.
	PollInterval time.Duration
	// SDL is a static schema. Services with a static schema are never polled.
	SDL string
}

// ServiceStatus is a point-in-time copy of a service's registry state.
type ServiceStatus struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Health        Health    `json:"health"`
	SchemaVersion int       `json:"schemaVersion"`
	Static        bool      `json:"static,omitempty"`
	LastPolled    time.Time `json:"lastPolled,omitzero"`
	LastError     string    `json:"lastError,omitempty"`
}

// SDLFetcher retrieves the current SDL of the service listening on url.
type SDLFetcher interface {
	FetchSDL(ctx context.Context, url string) (string, error)
}

type service struct {
	desc    ServiceDescriptor
	sdl     string
	version int
	health  Health
	polled  time.Time
	lastErr error

	// set while a poller runs
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *service) status() ServiceStatus {
	st := ServiceStatus{
		Name:          s.desc.Name,
		URL:           s.desc.URL,
		Health:        s.health,
		SchemaVersion: s.version,
		Static:        s.desc.SDL != "",
		LastPolled:    s.polled,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
