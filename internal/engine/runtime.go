package engine

import (
	"context"
	"encoding/json"
	"fmt"

	executor "github.com/hanpama/fedgateway/internal/executor"
)

// projection reads completed values out of the merged response tree.
// Objects are keyed by response name.
type projection struct{}

func (projection) ResolveField(ctx context.Context, info executor.ResolveInfo, source any) (any, error) {
	obj, ok := source.(map[string]any)
	if !ok {
		return nil, nil
	}
	v := obj[info.ResponseName]
	if isFailure(v) {
		return nil, executor.ErrAlreadyReported
	}
	return v, nil
}

func (projection) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["__typename"].(string); ok && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve the concrete type of %s: __typename is missing", abstractType)
}

// SerializeLeafValue keeps downstream numbers as decoded. Numbers
// returned for ID and String fields become strings.
func (projection) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	n, ok := value.(json.Number)
	if !ok {
		return value, nil
	}
	switch typ {
	case "ID", "String":
		return n.String(), nil
	case "Int":
		if _, err := n.Int64(); err != nil {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %s", n)
		}
	}
	return n, nil
}
