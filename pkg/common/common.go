package common

import (
	"fmt"
	"strconv"
)

// EntityType names a node label in the knowledge graph.
type EntityType string

const (
	TypeWarehouse           EntityType = "Warehouse"
	TypeInfrastructureAsset EntityType = "InfrastructureAsset"
	TypeRiskEvent           EntityType = "RiskEvent"
	TypeMarketContext       EntityType = "MarketContext"
	TypeManager             EntityType = "Manager"
	TypeZone                EntityType = "Zone"
)

// RelType names a directed edge type in the knowledge graph.
type RelType string

const (
	RelLocatedIn         RelType = "LOCATED_IN"
	RelManages           RelType = "MANAGES"
	RelExperienced       RelType = "EXPERIENCED"
	RelSupplies          RelType = "SUPPLIES"
	RelNear              RelType = "NEAR"
	RelHasInfrastructure RelType = "HAS_INFRASTRUCTURE"
	RelOperatesIn        RelType = "OPERATES_IN"
)

// Entity represents a node in the knowledge graph. Entities are created by the
// ingestion collaborator and are read-only to the reasoning pipeline.
//
// Attribute values are one of string, int64, float64 or bool. The schema
// registry validates the attribute set per entity type.
type Entity struct {
	ID         string         `json:"id"`
	Type       EntityType     `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// Name returns the "name" attribute, falling back to the id.
func (e Entity) Name() string {
	if s, ok := e.Attributes["name"].(string); ok && s != "" {
		return s
	}
	return e.ID
}

// Attr returns a single attribute value.
func (e Entity) Attr(key string) (any, bool) {
	if key == "id" {
		return e.ID, true
	}
	if key == "type" {
		return string(e.Type), true
	}
	v, ok := e.Attributes[key]
	return v, ok
}

// Clone returns a deep copy of the entity so callers can not mutate graph
// state through shared attribute maps.
func (e Entity) Clone() Entity {
	attrs := make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return Entity{ID: e.ID, Type: e.Type, Attributes: attrs}
}

// Relationship represents a directed, typed edge between two entities.
type Relationship struct {
	Type       RelType        `json:"type"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Key returns a stable identifier for the relationship.
func (r Relationship) Key() string {
	return r.SourceID + "-[" + string(r.Type) + "]->" + r.TargetID
}

// AsFloat converts a numeric attribute value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// AsInt converts a numeric attribute value to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsBool converts an attribute value to bool.
func AsBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		p, err := strconv.ParseBool(b)
		return p, err == nil
	case int64:
		return b != 0, true
	case float64:
		return b != 0, true
	}
	return false, false
}

// AsString renders any attribute value as text.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
