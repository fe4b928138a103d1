package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the GraphQL endpoint receives a request. The
// publishing context carries the request id.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the response is written. Operations is the
// number of GraphQL operations the request carried: 0 when it was
// rejected before execution, the array length for batches.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
