package events

import "time"

// SubgraphFetchStart is emitted before a request to a downstream service.
// Call identifies the request and is repeated on the matching finish event.
type SubgraphFetchStart struct {
	Call    uint64
	Service string
	URL     string
}

// SubgraphFetchFinish is emitted after a downstream request completes.
type SubgraphFetchFinish struct {
	Call     uint64
	Service  string
	URL      string
	Status   int
	Err      error
	Duration time.Duration
}
