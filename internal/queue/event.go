package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotEvent announces that the graph reached Version. EntityIDs lists
// the entities the ingestion batch touched; it may be empty.
type SnapshotEvent struct {
	Version   uint64   `json:"version"`
	EntityIDs []string `json:"entity_ids"`
}

func (e SnapshotEvent) Marshal() ([]byte, error) {
	if e.EntityIDs == nil {
		e.EntityIDs = []string{}
	}
	return json.Marshal(e)
}

func ParseSnapshotEvent(body []byte) (SnapshotEvent, error) {
	var ev SnapshotEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return SnapshotEvent{}, fmt.Errorf("invalid snapshot event: %w", err)
	}
	if ev.Version == 0 {
		return SnapshotEvent{}, errors.New("invalid snapshot event: version must be positive")
	}
	return ev, nil
}
