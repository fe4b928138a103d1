package engine

import (
	"fmt"

	executor "github.com/hanpama/fedgateway/internal/executor"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// Extension codes of errors raised by the engine.
const (
	CodeDownstreamServiceError = "DOWNSTREAM_SERVICE_ERROR"
	CodeFetchTimeout           = "FETCH_TIMEOUT"
	CodeEntityNotResolved      = "ENTITY_NOT_RESOLVED"
	CodeInternalServerError    = "INTERNAL_SERVER_ERROR"
)

// FetchError is a failed request to a downstream service. Errors is set
// when the service answered with errors and no data.
type FetchError struct {
	Service string
	Err     error
	Timeout bool
	Errors  []subgraph.Error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch from service %q timed out", e.Service)
	case len(e.Errors) > 0:
		return fmt.Sprintf("service %q returned no data: %s", e.Service, e.Errors[0].Message)
	}
	return fmt.Sprintf("fetch from service %q failed: %v", e.Service, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Code is the extension code the error is reported with.
func (e *FetchError) Code() string {
	if e.Timeout {
		return CodeFetchTimeout
	}
	return CodeDownstreamServiceError
}

// MergeInvariantViolation reports two fetches writing different values to
// the same response field. It means the plan was wrong; the query fails as
// a whole.
type MergeInvariantViolation struct {
	Path executor.Path
}

func (e *MergeInvariantViolation) Error() string {
	return fmt.Sprintf("conflicting values merged at %s", e.Path)
}
