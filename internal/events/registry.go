package events

import "time"

// ServicePolled is emitted after each SDL poll of a registered service.
type ServicePolled struct {
	Service  string
	Health   string
	Changed  bool
	Err      error
	Duration time.Duration
}

// SchemaComposed is emitted after every recomposition attempt. Err is a
// composition failure; the previously served schema stays in place.
type SchemaComposed struct {
	Services []string
	Err      error
	Duration time.Duration
}
