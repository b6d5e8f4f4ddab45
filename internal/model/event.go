package model

import "encoding/json"

// EventKind distinguishes progress-only events from the two terminal kinds.
type EventKind int

const (
	EventProgress EventKind = iota
	EventSuccess
	EventError
)

// ProgressEvent is one entry of a job's progress channel. Percent is
// non-decreasing within a job and exactly one terminal event ends it.
type ProgressEvent struct {
	Kind      EventKind
	Percent   float64
	Step      string
	Artifacts map[ArtifactRole]string
	Message   string
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Kind != EventProgress
}

// MarshalJSON renders the wire payload: {"progress":p}, the role→location
// map, or {"error":msg}.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventSuccess:
		return json.Marshal(e.Artifacts)
	case EventError:
		return json.Marshal(map[string]string{"error": e.Message})
	default:
		return json.Marshal(map[string]float64{"progress": e.Percent})
	}
}
