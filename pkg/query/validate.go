package query

import (
	"slices"
	"strconv"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Limits bounds what a query may ask of the graph store.
type Limits struct {
	MaxHops  int
	MaxLimit int
}

// Validate checks the query against the registry and limits. Every failure
// is a SchemaViolation.
func (q StructuredQuery) Validate(reg *schema.Registry, limits Limits) error {
	if !slices.Contains(Intents, q.Intent) {
		return violation("unknown intent %q", q.Intent)
	}
	if !reg.HasType(q.Start.Type) {
		return violation("unknown start type %q", q.Start.Type)
	}
	if err := validateFilters(reg, []common.EntityType{q.Start.Type}, q.Start.Filters); err != nil {
		return err
	}
	if limits.MaxHops > 0 && q.HopCount() > limits.MaxHops {
		return violation("hop count %d exceeds ceiling %d", q.HopCount(), limits.MaxHops)
	}
	if q.Limit < 0 || (limits.MaxLimit > 0 && q.Limit > limits.MaxLimit) {
		return violation("limit %d out of range", q.Limit)
	}

	for _, c := range q.Conditions {
		if !reg.HasType(c.TargetType) {
			return violation("condition references unknown type %q", c.TargetType)
		}
		if !tripleAllowed(reg, q.Start.Type, c.Relationship, c.Direction, c.TargetType) {
			return violation("condition %s not allowed from %s", c, q.Start.Type)
		}
		if err := validateFilters(reg, []common.EntityType{c.TargetType}, c.Filters); err != nil {
			return err
		}
	}

	bindings := [][]common.EntityType{{q.Start.Type}}
	current := []common.EntityType{q.Start.Type}
	for i, h := range q.Hops {
		targets, err := validateHop(reg, current, h)
		if err != nil {
			return common.NewError(common.KindSchemaViolation, "hop "+strconv.Itoa(i+1), err)
		}
		bindings = append(bindings, targets)
		current = targets
	}

	keys := make([]string, 0, len(q.Projection))
	for _, f := range q.Projection {
		if f.Binding < 0 || f.Binding >= len(bindings) {
			return violation("projection %q references missing binding %d", f.Key(), f.Binding)
		}
		if f.Binding == 0 && IsDerivedField(f.Attribute) {
			if q.Start.Type != common.TypeWarehouse {
				return violation("derived field %q requires Warehouse start", f.Attribute)
			}
		} else if !anyHasAttribute(reg, bindings[f.Binding], f.Attribute) {
			return violation("attribute %q not defined on %v", f.Attribute, bindings[f.Binding])
		}
		if slices.Contains(keys, f.Key()) {
			return violation("duplicate projection %q", f.Key())
		}
		keys = append(keys, f.Key())
	}

	if q.Sort != nil && !fieldKnown(reg, q, keys, q.Sort.Field) && (q.Aggregation == nil || q.Sort.Field != q.Aggregation.Key()) {
		return violation("unknown sort field %q", q.Sort.Field)
	}
	if a := q.Aggregation; a != nil {
		switch a.Func {
		case AggCount:
		case AggAvg, AggSum, AggMin, AggMax:
			if a.Field == "" || !fieldKnown(reg, q, keys, a.Field) {
				return violation("aggregation %s needs a known field, got %q", a.Func, a.Field)
			}
		default:
			return violation("unknown aggregation %q", a.Func)
		}
		if a.GroupBy != "" && !fieldKnown(reg, q, keys, a.GroupBy) {
			return violation("unknown group field %q", a.GroupBy)
		}
	}
	return nil
}

func validateHop(reg *schema.Registry, current []common.EntityType, h Hop) ([]common.EntityType, error) {
	if len(h.Relationships) == 0 {
		return nil, violation("no relationship types")
	}
	switch h.Direction {
	case Outgoing, Incoming, Both:
	default:
		return nil, violation("unknown direction %q", h.Direction)
	}
	for _, rel := range h.Relationships {
		if !reg.HasRelationship(rel) {
			return nil, violation("unknown relationship %q", rel)
		}
	}

	targets := h.TargetTypes
	if len(targets) == 0 {
		for _, t := range reg.Types() {
			targets = append(targets, t.Name)
		}
	}
	var reachable []common.EntityType
	for _, target := range targets {
		if !reg.HasType(target) {
			return nil, violation("unknown target type %q", target)
		}
		for _, rel := range h.Relationships {
			ok := false
			if h.Depth() == 1 {
				for _, src := range current {
					ok = ok || tripleAllowed(reg, src, rel, h.Direction, target)
				}
			} else {
				ok = relTouches(reg, rel, h.Direction, target)
			}
			if ok {
				reachable = append(reachable, target)
				break
			}
		}
	}
	if len(h.TargetTypes) > 0 && len(reachable) != len(h.TargetTypes) {
		return nil, violation("target types %v not reachable from %v via %v", h.TargetTypes, current, h.Relationships)
	}
	if len(reachable) == 0 {
		return nil, violation("nothing reachable from %v via %v", current, h.Relationships)
	}
	if err := validateFilters(reg, reachable, h.Filters); err != nil {
		return nil, err
	}
	return reachable, nil
}

func tripleAllowed(reg *schema.Registry, from common.EntityType, rel common.RelType, dir Direction, to common.EntityType) bool {
	switch dir {
	case Outgoing:
		return reg.Allowed(from, rel, to)
	case Incoming:
		return reg.Allowed(to, rel, from)
	case Both:
		return reg.Allowed(from, rel, to) || reg.Allowed(to, rel, from)
	}
	return false
}

func relTouches(reg *schema.Registry, rel common.RelType, dir Direction, target common.EntityType) bool {
	for _, t := range reg.Triples() {
		if t.Relationship != rel {
			continue
		}
		if (dir != Incoming && t.Target == target) || (dir != Outgoing && t.Source == target) {
			return true
		}
	}
	return false
}

func validateFilters(reg *schema.Registry, types []common.EntityType, filters []Filter) error {
	for _, f := range filters {
		if !validOps[f.Op] {
			return violation("unknown operator %q", f.Op)
		}
		scope := types
		if f.Type != "" {
			if !slices.Contains(types, f.Type) {
				return violation("filter type %q not bound here", f.Type)
			}
			scope = []common.EntityType{f.Type}
		}
		if !anyHasAttribute(reg, scope, f.Attribute) {
			return violation("attribute %q not defined on %v", f.Attribute, scope)
		}
	}
	return nil
}

func anyHasAttribute(reg *schema.Registry, types []common.EntityType, attr string) bool {
	for _, t := range types {
		if reg.HasAttribute(t, attr) {
			return true
		}
	}
	return false
}

func fieldKnown(reg *schema.Registry, q StructuredQuery, keys []string, field string) bool {
	if slices.Contains(keys, field) {
		return true
	}
	if IsDerivedField(field) {
		return q.Start.Type == common.TypeWarehouse
	}
	return reg.HasAttribute(q.Start.Type, field)
}

func violation(format string, args ...any) *common.Error {
	return common.Errorf(common.KindSchemaViolation, format, args...)
}
