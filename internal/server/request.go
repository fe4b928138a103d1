package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	gateway "github.com/hanpama/fedgateway/internal/gateway"
)

type requestError struct {
	status  int
	message string
}

func badRequest(message string) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message}
}

// decodeRequests reads the GraphQL requests of r. batch reports a JSON
// array body, which is answered with an array even for one element.
func decodeRequests(w http.ResponseWriter, r *http.Request, maxBody int64) (reqs []gateway.Request, batch bool, rerr *requestError) {
	if r.Method == http.MethodGet {
		params := r.URL.Query()
		req := gateway.Request{
			Query:         params.Get("query"),
			OperationName: params.Get("operationName"),
			Variables:     map[string]any{},
		}
		if req.Query == "" {
			return nil, false, badRequest("missing 'query'")
		}
		if v := params.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return nil, false, badRequest("invalid 'variables' JSON")
			}
		}
		return []gateway.Request{req}, false, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return nil, false, badRequest("unsupported Content-Type")
		}
	}
	defer r.Body.Close()
	body := io.Reader(r.Body)
	if maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, false, &requestError{status: http.StatusRequestEntityTooLarge, message: "body too large"}
		}
		return nil, false, badRequest("failed to read body")
	}

	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, false, badRequest("invalid JSON")
		}
		if len(reqs) == 0 {
			return nil, false, badRequest("empty batch")
		}
		return reqs, true, nil
	}
	var req gateway.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, false, badRequest("invalid JSON")
	}
	if req.Query == "" {
		return nil, false, badRequest("missing 'query'")
	}
	return []gateway.Request{req}, false, nil
}
