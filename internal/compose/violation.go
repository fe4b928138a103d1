package compose

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgateway/internal/language"
)

// Violation is one reason a composition was rejected.
type Violation struct {
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (v *Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Message)
	if v.Service != "" {
		b.WriteString(" [")
		b.WriteString(v.Service)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString("]")
	}
	return b.String()
}

// CompositionError lists every violation found while composing. The
// composition is rejected as a whole when it is returned.
type CompositionError []*Violation

func (e CompositionError) Error() string {
	msg := "composition failed:\n"
	for _, v := range e {
		msg += "- " + v.String() + "\n"
	}
	return msg
}

func violationAt(service string, pos *language.Position, format string, args ...any) *Violation {
	v := &Violation{Message: fmt.Sprintf(format, args...), Service: service}
	if pos != nil {
		v.Line = pos.Line
		v.Column = pos.Column
	}
	return v
}
