package planner

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgateway/internal/language"
)

// Problem is one reason a query could not be planned.
type Problem struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (p *Problem) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s (%d:%d)", p.Message, p.Line, p.Column)
	}
	return p.Message
}

// PlanningError lists every problem found while planning. A query that
// fails to plan never reaches a downstream service.
type PlanningError []*Problem

func (e PlanningError) Error() string {
	if len(e) == 1 {
		return e[0].String()
	}
	parts := make([]string, len(e))
	for i, p := range e {
		parts[i] = p.String()
	}
	return "planning failed: " + strings.Join(parts, "; ")
}

func problemAt(pos *language.Position, format string, args ...any) *Problem {
	p := &Problem{Message: fmt.Sprintf(format, args...)}
	if pos != nil {
		p.Line = pos.Line
		p.Column = pos.Column
	}
	return p
}
