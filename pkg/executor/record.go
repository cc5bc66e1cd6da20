package executor

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Record is one result row: an ordered field mapping plus provenance. A
// Record never changes after the executor returns it; accessors hand out
// copies.
type Record struct {
	keys          []string
	values        map[string]any
	entityIDs     []string
	relationships []string
}

// NewRecord builds a record from ordered keys and values. Missing values are
// stored as nil.
func NewRecord(keys []string, values map[string]any, entityIDs, relationships []string) Record {
	r := Record{
		keys:          slices.Clone(keys),
		values:        make(map[string]any, len(keys)),
		entityIDs:     slices.Clone(entityIDs),
		relationships: slices.Clone(relationships),
	}
	for _, k := range keys {
		r.values[k] = values[k]
	}
	return r
}

// Keys returns the field names in projection order.
func (r Record) Keys() []string {
	return slices.Clone(r.keys)
}

// Get returns a single field value.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Values returns a copy of the field mapping.
func (r Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// EntityIDs lists the entities the record was derived from.
func (r Record) EntityIDs() []string {
	return slices.Clone(r.entityIDs)
}

// Relationships lists the traversed relationships as "src-[TYPE]->dst".
func (r Record) Relationships() []string {
	return slices.Clone(r.relationships)
}

// String renders the record as "field=value; field=value" skipping empty
// values.
func (r Record) String() string {
	parts := make([]string, 0, len(r.keys))
	for _, k := range r.keys {
		v := r.values[k]
		if v == nil {
			continue
		}
		parts = append(parts, k+"="+common.AsString(v))
	}
	return strings.Join(parts, "; ")
}

type recordJSON struct {
	Fields        json.RawMessage `json:"fields"`
	EntityIDs     []string        `json:"entity_ids"`
	Relationships []string        `json:"relationships,omitempty"`
}

// MarshalJSON keeps the projection order of the fields.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	ids := r.entityIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(recordJSON{Fields: buf.Bytes(), EntityIDs: ids, Relationships: r.relationships})
}
