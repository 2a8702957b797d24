package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// NamedRegions are the predefined Indian Ocean basins resolvable from free
// text. Keys are lowercase match phrases.
var NamedRegions = map[string]Region{
	"bay of bengal":     BoundingBox("Bay of Bengal", 8, 22, 80, 95),
	"arabian sea":       BoundingBox("Arabian Sea", 8, 25, 50, 75),
	"equatorial indian": BoundingBox("Equatorial Indian", -5, 5, 50, 100),
	"indian ocean":      BoundingBox("Indian Ocean", -40, 25, 20, 120),
}

// coordPattern matches a "lat, lon" decimal pair, with optional degree signs.
var coordPattern = regexp.MustCompile(`(-?\d+\.?\d*)°?\s*,\s*(-?\d+\.?\d*)°?`)

// CoordinateBuffer is the half-width in degrees of the box built around an
// explicit coordinate mention.
const CoordinateBuffer = 2.0

// RegionFromText resolves a region explicitly named in free text: a known
// basin name first, then a decimal coordinate pair, which yields a buffered
// box around the point. Returns nil when the text names no location.
func RegionFromText(text string) *Region {
	lower := strings.ToLower(text)
	// The basin phrases are disjoint except the ocean itself, which is
	// checked last so "equatorial indian ocean" resolves to the basin.
	for phrase, region := range NamedRegions {
		if phrase == "indian ocean" {
			continue
		}
		if strings.Contains(lower, phrase) {
			r := region
			return &r
		}
	}
	if strings.Contains(lower, "indian ocean") {
		r := NamedRegions["indian ocean"]
		return &r
	}
	if m := coordPattern.FindStringSubmatch(text); m != nil {
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lon, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
			r := BufferedBox(lat, lon, CoordinateBuffer)
			return &r
		}
	}
	return nil
}

// BufferedBox builds a box of +-buffer degrees around a coordinate, clamped
// to valid ranges.
func BufferedBox(lat, lon, buffer float64) Region {
	return BoundingBox(
		"around ("+strconv.FormatFloat(lat, 'f', 2, 64)+", "+strconv.FormatFloat(lon, 'f', 2, 64)+")",
		maxf(-90, lat-buffer), minf(90, lat+buffer),
		maxf(-180, lon-buffer), minf(180, lon+buffer),
	)
}
