package ingest

import (
	"fmt"
	"strings"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

// Summary renders a profile as the descriptive text its embedding is derived
// from. The wording stays stable across releases: changing it silently
// shifts every vector, so any rewording must ship with a new embedding
// version.
func Summary(rec domain.ProfileRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Float %s cycle %d profiled at %.2f°N, %.2f°E", rec.FloatID, rec.Cycle, rec.Latitude, rec.Longitude)
	if !rec.Time.IsZero() {
		fmt.Fprintf(&b, " on %s", rec.Time.UTC().Format("2006-01-02"))
	}
	b.WriteString(".")

	if len(rec.Levels) > 0 {
		top := rec.Levels[0]
		bottom := rec.Levels[len(rec.Levels)-1]
		fmt.Fprintf(&b, " %d levels from %.1f to %.1f dbar.", len(rec.Levels), top.Pressure, bottom.Pressure)
		if surface, ok := rec.Surface(); ok && surface.Pressure <= domain.SurfacePressure {
			fmt.Fprintf(&b, " Surface water %.1f°C, salinity %.1f PSU.", surface.Temperature, surface.Salinity)
		}
		fmt.Fprintf(&b, " Deepest reading %.1f°C, salinity %.1f PSU at %.1f dbar.",
			bottom.Temperature, bottom.Salinity, bottom.Pressure)
	}
	return b.String()
}
