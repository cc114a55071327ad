package urban

import (
	"encoding/json"
	"maps"
)

// Snapshot is an immutable copy of one cell's metrics at one timestep,
// uniquely keyed by (RunID, Timestep, GridID).
type Snapshot struct {
	RunID    string
	Timestep int
	GridID   string

	segments []string
	metrics  Metrics
}

// Get returns a metric value, or 0 if unset.
func (s Snapshot) Get(metric string) float64 {
	return s.metrics[metric]
}

// Metrics returns a copy of the recorded metrics.
func (s Snapshot) Metrics() Metrics {
	return s.metrics.Clone()
}

// Segments returns the recorded income segment populations by segment name.
func (s Snapshot) Segments() map[string]float64 {
	if len(s.segments) == 0 {
		return nil
	}
	out := make(map[string]float64, len(s.segments))
	for _, name := range s.segments {
		out[name] = s.metrics[SegmentMetric(name)]
	}
	return out
}

// Equal reports whether two snapshots carry the same key and identical
// metric values.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.RunID == o.RunID &&
		s.Timestep == o.Timestep &&
		s.GridID == o.GridID &&
		maps.Equal(s.metrics, o.metrics)
}

// MarshalJSON renders the snapshot with its metrics inline.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RunID    string             `json:"run_id"`
		Timestep int                `json:"timestep"`
		GridID   string             `json:"grid_id"`
		Metrics  Metrics            `json:"metrics"`
		Segments map[string]float64 `json:"segments,omitempty"`
	}{s.RunID, s.Timestep, s.GridID, s.metrics, s.Segments()})
}
