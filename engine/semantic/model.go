package semantic

import "github.com/google/uuid"

// Match is a single vector search hit, resolved back to a profile id.
type Match struct {
	ProfileID string  `json:"profile_id"`
	Score     float32 `json:"score"`
	Summary   string  `json:"summary"`
	BatchID   string  `json:"batch_id"`
	Version   string  `json:"embedding_version"`
}

// VectorRecord is a single point to store: the embedding of one profile's
// descriptive summary plus the payload fields queries filter on.
type VectorRecord struct {
	ProfileID string
	BatchID   string
	Version   string
	Summary   string
	Latitude  float64
	Longitude float64
	Embedding []float32
}

// pointNamespace scopes deterministic point ids to this collection's schema.
var pointNamespace = uuid.MustParse("2b41a8d2-90ae-4a9c-9b77-1b6dfc3f1a55")

// PointID derives a stable UUID from a profile id so re-upserting the same
// profile overwrites its point instead of duplicating it.
func PointID(profileID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(profileID)).String()
}
