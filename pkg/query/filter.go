package query

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpContains Op = "contains"
)

var validOps = map[Op]bool{OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpContains: true}

// Filter is an attribute predicate. When Type is set the filter only applies
// to entities of that type and passes every other entity.
type Filter struct {
	Type      common.EntityType `json:"type,omitempty"`
	Attribute string            `json:"attribute"`
	Op        Op                `json:"op"`
	Value     any               `json:"value"`
}

// Eq is shorthand for an equality filter.
func Eq(attribute string, value any) Filter {
	return Filter{Attribute: attribute, Op: OpEq, Value: value}
}

func (f Filter) String() string {
	s := fmt.Sprintf("%s %s %v", f.Attribute, f.Op, f.Value)
	if f.Type != "" {
		s = string(f.Type) + "." + s
	}
	return s
}

// Match evaluates the filter against an entity. String equality ignores
// case; a missing attribute only satisfies OpNe.
func (f Filter) Match(e common.Entity) bool {
	if f.Type != "" && e.Type != f.Type {
		return true
	}
	v, ok := e.Attr(f.Attribute)
	if !ok || v == nil {
		return f.Op == OpNe
	}
	return compare(v, f.Op, f.Value)
}

// MatchAll reports whether the entity passes every filter.
func MatchAll(e common.Entity, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(e) {
			return false
		}
	}
	return true
}

func compare(v any, op Op, want any) bool {
	if b, ok := want.(bool); ok {
		got, ok := common.AsBool(v)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return got == b
		case OpNe:
			return got != b
		}
		return false
	}

	if ws, ok := want.(string); ok {
		gs := common.AsString(v)
		switch op {
		case OpEq:
			return strings.EqualFold(gs, ws)
		case OpNe:
			return !strings.EqualFold(gs, ws)
		case OpContains:
			return strings.Contains(strings.ToLower(gs), strings.ToLower(ws))
		}
	}

	a, ok := common.AsFloat(v)
	if !ok {
		return false
	}
	b, ok := common.AsFloat(want)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

// CompareValues orders two field values. Numbers compare numerically,
// everything else as case-insensitive text. Nil sorts after any value.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	fa, okA := numeric(a)
	fb, okB := numeric(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(strings.ToLower(common.AsString(a)), strings.ToLower(common.AsString(b)))
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case string, bool:
		return 0, false
	}
	return common.AsFloat(v)
}
