package models

import (
	"time"
)

// Event bus topics.
const (
	EventAssembleRequested = "feature.assemble"
	EventVectorAssembled   = "feature.vector"
)

// Event is the envelope of every message on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // feature.assemble, feature.vector
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// String returns data[key] when it is a non-empty string.
func (e Event) String(key string) (string, bool) {
	s, ok := e.Data[key].(string)
	return s, ok && s != ""
}
