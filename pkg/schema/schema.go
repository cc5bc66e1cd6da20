// Package schema holds the canonical description of the knowledge graph:
// entity types, their attributes, relationship types and the allowed
// (source, relationship, target) triples. A Registry is immutable after
// construction and safe for concurrent use.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Kind is the value kind of an attribute.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
)

// Attribute describes one attribute of an entity type.
type Attribute struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// RiskRelevant marks attributes consumed by the risk scoring engine.
	RiskRelevant bool `json:"risk_relevant"`
	// Values lists the allowed values of enumerated string attributes.
	Values []string `json:"values,omitempty"`
	// Synonyms are phrases a question may use for this attribute in
	// addition to the name with underscores replaced by spaces.
	Synonyms []string `json:"synonyms,omitempty"`
}

// Phrases returns every phrase that refers to the attribute, longest first.
func (a Attribute) Phrases() []string {
	out := append([]string{strings.ReplaceAll(a.Name, "_", " ")}, a.Synonyms...)
	slices.SortStableFunc(out, func(x, y string) int { return len(y) - len(x) })
	return out
}

// EntityType describes one node label.
type EntityType struct {
	Name       common.EntityType `json:"name"`
	Attributes []Attribute       `json:"attributes"`
	// Keywords are the words a question may use to refer to this type.
	Keywords []string `json:"keywords"`
}

// Attribute looks up an attribute by name.
func (t EntityType) Attribute(name string) (Attribute, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Triple is an allowed (source, relationship, target) combination.
type Triple struct {
	Source       common.EntityType `json:"source"`
	Relationship common.RelType    `json:"relationship"`
	Target       common.EntityType `json:"target"`
}

// Registry is the schema contract shared by every pipeline component.
type Registry struct {
	version string
	types   map[common.EntityType]EntityType
	order   []common.EntityType
	rels    []common.RelType
	triples map[Triple]struct{}
}

// New builds a registry from type and triple definitions. It fails when a
// triple references an unknown entity type.
func New(version string, types []EntityType, triples []Triple) (*Registry, error) {
	r := &Registry{
		version: version,
		types:   make(map[common.EntityType]EntityType, len(types)),
		triples: make(map[Triple]struct{}, len(triples)),
	}
	for _, t := range types {
		if _, dup := r.types[t.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		r.types[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	for _, tr := range triples {
		if _, ok := r.types[tr.Source]; !ok {
			return nil, fmt.Errorf("triple %v references unknown source type", tr)
		}
		if _, ok := r.types[tr.Target]; !ok {
			return nil, fmt.Errorf("triple %v references unknown target type", tr)
		}
		r.triples[tr] = struct{}{}
		if !slices.Contains(r.rels, tr.Relationship) {
			r.rels = append(r.rels, tr.Relationship)
		}
	}
	return r, nil
}

// Version identifies the schema revision.
func (r *Registry) Version() string {
	return r.version
}

// Types returns all entity types in declaration order.
func (r *Registry) Types() []EntityType {
	out := make([]EntityType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Type looks up an entity type.
func (r *Registry) Type(name common.EntityType) (EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// HasType reports whether the entity type exists.
func (r *Registry) HasType(name common.EntityType) bool {
	_, ok := r.types[name]
	return ok
}

// HasRelationship reports whether any triple uses the relationship type.
func (r *Registry) HasRelationship(rel common.RelType) bool {
	return slices.Contains(r.rels, rel)
}

// Relationships returns all relationship types in declaration order.
func (r *Registry) Relationships() []common.RelType {
	return slices.Clone(r.rels)
}

// Allowed reports whether the triple is part of the schema.
func (r *Registry) Allowed(source common.EntityType, rel common.RelType, target common.EntityType) bool {
	_, ok := r.triples[Triple{Source: source, Relationship: rel, Target: target}]
	return ok
}

// Triples returns all allowed triples sorted for stable output.
func (r *Registry) Triples() []Triple {
	out := make([]Triple, 0, len(r.triples))
	for t := range r.triples {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Triple) int {
		if c := strings.Compare(string(a.Source), string(b.Source)); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Relationship), string(b.Relationship)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Target), string(b.Target))
	})
	return out
}

// HasAttribute reports whether the type declares the attribute. The
// pseudo attributes "id" and "type" exist on every type.
func (r *Registry) HasAttribute(typ common.EntityType, attr string) bool {
	if attr == "id" || attr == "type" {
		return r.HasType(typ)
	}
	t, ok := r.types[typ]
	if !ok {
		return false
	}
	_, ok = t.Attribute(attr)
	return ok
}

// MatchKeyword returns the entity type a word refers to.
func (r *Registry) MatchKeyword(word string) (common.EntityType, bool) {
	word = strings.ToLower(word)
	for _, name := range r.order {
		if slices.Contains(r.types[name].Keywords, word) {
			return name, true
		}
	}
	return "", false
}

// MatchAttribute returns the attribute of typ whose phrase occurs in text.
// The longest matching phrase wins so "distance from hub" beats "distance".
func (r *Registry) MatchAttribute(typ common.EntityType, text string) (Attribute, bool) {
	t, ok := r.types[typ]
	if !ok {
		return Attribute{}, false
	}
	text = strings.ToLower(text)

	var best Attribute
	bestLen := 0
	for _, a := range t.Attributes {
		if a.Name == "name" {
			continue
		}
		for _, p := range a.Phrases() {
			if len(p) > bestLen && containsPhrase(text, p) {
				best, bestLen = a, len(p)
			}
		}
	}
	return best, bestLen > 0
}

// ValidateEntity checks an entity against its type definition.
func (r *Registry) ValidateEntity(e common.Entity) error {
	if e.ID == "" {
		return common.Errorf(common.KindSchemaViolation, "entity without id")
	}
	t, ok := r.types[e.Type]
	if !ok {
		return common.Errorf(common.KindSchemaViolation, "unknown entity type %q", e.Type)
	}
	for key, value := range e.Attributes {
		attr, ok := t.Attribute(key)
		if !ok {
			return common.Errorf(common.KindSchemaViolation, "%s %s: unknown attribute %q", e.Type, e.ID, key)
		}
		if !kindMatches(attr.Kind, value) {
			return common.Errorf(common.KindSchemaViolation, "%s %s: attribute %q must be %s, got %T", e.Type, e.ID, key, attr.Kind, value)
		}
		if len(attr.Values) > 0 {
			s, _ := value.(string)
			if !slices.Contains(attr.Values, s) {
				return common.Errorf(common.KindSchemaViolation, "%s %s: attribute %q has invalid value %q", e.Type, e.ID, key, s)
			}
		}
	}
	return nil
}

// ValidateRelationship checks a relationship against the allowed triples.
func (r *Registry) ValidateRelationship(rel common.Relationship, source, target common.EntityType) error {
	if !r.Allowed(source, rel.Type, target) {
		return common.Errorf(common.KindSchemaViolation, "relationship (%s)-[%s]->(%s) is not allowed", source, rel.Type, target)
	}
	return nil
}

func kindMatches(kind Kind, value any) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInt:
		switch value.(type) {
		case int64, int, int32:
			return true
		}
	case KindFloat:
		switch value.(type) {
		case float64, float32, int64, int:
			return true
		}
	case KindBool:
		_, ok := value.(bool)
		return ok
	}
	return false
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
