// Package domain defines core domain types, constants, and validation for the
// FloatChat engine. It acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"time"
)

// Level is one depth-indexed measurement within a profile. Pressure is in
// dbar and doubles as the depth coordinate, temperature in °C, salinity in
// PSU. Extra carries any additional sensor channels by name.
type Level struct {
	Pressure    float64            `json:"pres"`
	Temperature float64            `json:"temp"`
	Salinity    float64            `json:"psal"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// ProfileRecord is the canonical in-memory representation of one measurement
// profile, independent of the source file format. Records are immutable once
// loaded; corrections arrive as new records under a newer batch id.
type ProfileRecord struct {
	FloatID    string    `json:"float_id"`
	Cycle      int       `json:"cycle"`
	Time       time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Levels     []Level   `json:"levels"`
	SourceFile string    `json:"source_file"`
	BatchID    string    `json:"batch_id"`
}

// ID returns the unique profile identifier (float id + cycle number).
func (p ProfileRecord) ID() string {
	return fmt.Sprintf("%s:%d", p.FloatID, p.Cycle)
}

// Surface returns the shallowest level, if any. Surface measurements are
// those at pressure <= SurfacePressure.
func (p ProfileRecord) Surface() (Level, bool) {
	if len(p.Levels) == 0 {
		return Level{}, false
	}
	return p.Levels[0], true
}

// SurfacePressure is the cutoff (dbar) below which a measurement counts as a
// surface reading for time-series queries.
const SurfacePressure = 10.0

// EmbeddingVector is a fixed-dimension vector derived from a profile's
// descriptive text, associated 1:1 with a ProfileRecord id in the vector
// store. Version identifies the embedding function that produced it.
type EmbeddingVector struct {
	ProfileID string    `json:"profile_id"`
	Values    []float32 `json:"values"`
	Version   string    `json:"version"`
}

// BatchStatus is the ingestion batch state machine of one pipeline run.
type BatchStatus string

const (
	BatchIdle         BatchStatus = "idle"
	BatchFetching     BatchStatus = "fetching"
	BatchConverting   BatchStatus = "converting"
	BatchTransforming BatchStatus = "transforming"
	BatchLoading      BatchStatus = "loading"
	BatchCommitted    BatchStatus = "committed"
	BatchFailed       BatchStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s BatchStatus) Terminal() bool {
	return s == BatchCommitted || s == BatchFailed
}

// Batch is the audit record of one ingestion pipeline run. It is never
// mutated after reaching a terminal status.
type Batch struct {
	ID          string      `json:"id"`
	Status      BatchStatus `json:"status"`
	SourceFiles []string    `json:"source_files"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

// QueryMode classifies how a question is answered.
type QueryMode string

const (
	ModeSpatial  QueryMode = "spatial"
	ModeSemantic QueryMode = "semantic"
	ModeHybrid   QueryMode = "hybrid"
)

// QueryPlan is the router's resolved plan for one question: which engines
// run, over which region, with what text.
type QueryPlan struct {
	Mode   QueryMode `json:"mode"`
	Region *Region   `json:"region,omitempty"`
	Text   string    `json:"text"`
}
