package executor

import (
	"encoding/json"
	"errors"
)

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location points into the request document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`

	// requestError is set when the request failed before execution
	// started; the response then has no data entry.
	requestError bool
}

// RequestError returns the result of a request rejected before execution.
func RequestError(errs ...GraphQLError) *ExecutionResult {
	return &ExecutionResult{Errors: errs, requestError: true}
}

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	if r.requestError {
		return json.Marshal(struct {
			Errors []GraphQLError `json:"errors"`
		}{r.Errors})
	}
	type plain ExecutionResult
	return json.Marshal(plain(r))
}

// asGraphQLError converts err into a GraphQLError located at path, keeping
// the message and extensions of errors that already are GraphQL errors.
func asGraphQLError(err error, path Path) GraphQLError {
	var gerr GraphQLError
	if errors.As(err, &gerr) {
		gerr.Path = path
		return gerr
	}
	var perr *GraphQLError
	if errors.As(err, &perr) && perr != nil {
		out := *perr
		out.Path = path
		return out
	}
	return GraphQLError{Message: err.Error(), Path: path}
}
