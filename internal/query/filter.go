// ABOUTME: Boolean predicate trees over record fields, combined with AND/OR
// ABOUTME: Filters are JSON-serializable so they can travel to a remote backend

package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Op is a filter operator. Comparison operators apply to a field;
// OpAnd and OpOr combine clauses.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Filter is a node of a predicate tree. A nil *Filter matches everything.
type Filter struct {
	Op      Op        `json:"op"`
	Field   string    `json:"field,omitempty"`
	Value   any       `json:"value"`
	Clauses []*Filter `json:"clauses,omitempty"`
}

// Cond builds a field/operator/value leaf.
func Cond(field string, op Op, value any) *Filter {
	return &Filter{Op: op, Field: field, Value: value}
}

// And matches when every clause matches.
func And(clauses ...*Filter) *Filter {
	return &Filter{Op: OpAnd, Clauses: clauses}
}

// Or matches when any clause matches.
func Or(clauses ...*Filter) *Filter {
	return &Filter{Op: OpOr, Clauses: clauses}
}

// Validate checks the tree for unknown operators and missing fields.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	switch f.Op {
	case OpAnd, OpOr:
		if len(f.Clauses) == 0 {
			return fmt.Errorf("%s filter needs at least one clause", f.Op)
		}
		for i, c := range f.Clauses {
			if c == nil {
				return fmt.Errorf("%s clause %d is nil", f.Op, i)
			}
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if f.Field == "" {
			return fmt.Errorf("%s filter needs a field", f.Op)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter operator %q", f.Op)
	}
}

// Match evaluates the filter against a record.
func (f *Filter) Match(r Record) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case OpAnd:
		for _, c := range f.Clauses {
			if !c.Match(r) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Clauses {
			if c.Match(r) {
				return true
			}
		}
		return false
	}

	actual, present := r[f.Field]
	switch f.Op {
	case OpEq:
		return present && equal(actual, f.Value)
	case OpNe:
		return !present || !equal(actual, f.Value)
	}
	if !present {
		return false
	}
	cmp, ok := compare(actual, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// String renders the filter for logs.
func (f *Filter) String() string {
	if f == nil {
		return "*"
	}
	switch f.Op {
	case OpAnd, OpOr:
		parts := make([]string, len(f.Clauses))
		for i, c := range f.Clauses {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+string(f.Op)+" ") + ")"
	default:
		return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
	}
}

// ParseFilter decodes a JSON filter. An empty string yields a nil filter.
func ParseFilter(s string) (*Filter, error) {
	if s == "" {
		return nil, nil
	}
	var f Filter
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("decoding filter: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normalize maps values onto a small set of comparable kinds:
// string, float64, bool, time.Time.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case time.Time:
		return n.UTC()
	default:
		return v
	}
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case string, float64, bool, nil:
		switch b.(type) {
		case string, float64, bool, nil:
			return a == b
		}
	}
	return false
}

func compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}
