package domain

import (
	"errors"
	"testing"
	"time"
)

func validProfile() ProfileRecord {
	return ProfileRecord{
		FloatID:   "2902746",
		Cycle:     12,
		Time:      time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		Latitude:  12.5,
		Longitude: 88.2,
		Levels: []Level{
			{Pressure: 2.1, Temperature: 28.4, Salinity: 33.1},
			{Pressure: 50.0, Temperature: 24.0, Salinity: 34.2},
			{Pressure: 200.0, Temperature: 14.3, Salinity: 34.9},
		},
		SourceFile: "R2902746_012.nc",
		BatchID:    "batch-1",
	}
}

func TestValidateProfile_Valid(t *testing.T) {
	if err := ValidateProfile(validProfile()); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
}

func TestValidateProfile_DepthNotMonotonic(t *testing.T) {
	p := validProfile()
	p.Levels[2].Pressure = 10.0
	err := ValidateProfile(p)
	if !errors.Is(err, ErrDepthNotMonotonic) {
		t.Fatalf("expected ErrDepthNotMonotonic, got %v", err)
	}
}

func TestValidateProfile_LatitudeOutOfRange(t *testing.T) {
	p := validProfile()
	p.Latitude = 91
	if err := ValidateProfile(p); !errors.Is(err, ErrCoordinateOutOfRange) {
		t.Fatalf("expected ErrCoordinateOutOfRange, got %v", err)
	}
}

func TestValidateProfile_Empty(t *testing.T) {
	p := validProfile()
	p.Levels = nil
	if err := ValidateProfile(p); !errors.Is(err, ErrEmptyProfile) {
		t.Fatalf("expected ErrEmptyProfile, got %v", err)
	}
}

func TestProfileID(t *testing.T) {
	p := validProfile()
	if got := p.ID(); got != "2902746:12" {
		t.Errorf("ID = %q, want 2902746:12", got)
	}
}

func TestBoundingBoxContains(t *testing.T) {
	r := BoundingBox("Bay of Bengal", 8, 22, 80, 95)

	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{15, 87, true},
		{8, 80, true},    // corner
		{22, 95, true},   // corner
		{15, 96, false},  // east of box
		{7.9, 87, false}, // south of box
		{-15, 87, false},
	}
	for _, c := range cases {
		if got := r.Contains(c.lat, c.lon); got != c.want {
			t.Errorf("Contains(%g, %g) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestDegenerateThinBoxContains(t *testing.T) {
	// Single-point-width box: zero latitude extent but non-empty longitude
	// span. Points on the line are in, everything else is out.
	r := Region{Vertices: []Point{
		{Lat: 10, Lon: 80},
		{Lat: 10, Lon: 90},
		{Lat: 10.000001, Lon: 90},
		{Lat: 10.000001, Lon: 80},
	}}
	if !r.Contains(10, 85) {
		t.Error("expected point on the lower edge to be contained")
	}
	if r.Contains(11, 85) {
		t.Error("expected point north of the sliver to be excluded")
	}
}

func TestIsBox(t *testing.T) {
	if !BoundingBox("box", 8, 22, 80, 95).IsBox() {
		t.Error("expected axis-aligned rectangle to report IsBox")
	}
	tri := Region{Vertices: []Point{{Lat: -5, Lon: 60}, {Lat: -5, Lon: 90}, {Lat: 10, Lon: 75}}}
	if tri.IsBox() {
		t.Error("expected triangle to not report IsBox")
	}
	// Four vertices but a tilted quad: corners off the bounding box.
	quad := Region{Vertices: []Point{
		{Lat: 0, Lon: 75}, {Lat: 5, Lon: 80}, {Lat: 0, Lon: 85}, {Lat: -5, Lon: 80},
	}}
	if quad.IsBox() {
		t.Error("expected tilted quad to not report IsBox")
	}
}

func TestPolygonContains(t *testing.T) {
	// Triangle over the equatorial Indian Ocean.
	r := Region{Name: "tri", Vertices: []Point{
		{Lat: -5, Lon: 60},
		{Lat: -5, Lon: 90},
		{Lat: 10, Lon: 75},
	}}
	if !r.Contains(0, 75) {
		t.Error("expected centroid-ish point inside triangle")
	}
	if r.Contains(9, 61) {
		t.Error("expected point outside triangle edge")
	}
}

func TestRegionValidate(t *testing.T) {
	good := BoundingBox("box", 0, 10, 0, 10)
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid box, got %v", err)
	}

	if err := (Region{Vertices: []Point{{0, 0}, {1, 1}}}).Validate(); !errors.Is(err, ErrRegionTooFewVertices) {
		t.Errorf("expected ErrRegionTooFewVertices, got %v", err)
	}

	bowtie := Region{Vertices: []Point{{0, 0}, {10, 10}, {0, 10}, {10, 0}}}
	if err := bowtie.Validate(); !errors.Is(err, ErrRegionSelfIntersecting) {
		t.Errorf("expected ErrRegionSelfIntersecting, got %v", err)
	}

	collapsed := Region{Vertices: []Point{{5, 5}, {5, 5}, {5, 5}}}
	if err := collapsed.Validate(); !errors.Is(err, ErrRegionEmptyInterior) {
		t.Errorf("expected ErrRegionEmptyInterior, got %v", err)
	}

	outOfRange := Region{Vertices: []Point{{0, 0}, {0, 181}, {10, 10}}}
	if err := outOfRange.Validate(); !errors.Is(err, ErrCoordinateOutOfRange) {
		t.Errorf("expected ErrCoordinateOutOfRange, got %v", err)
	}
}

func TestRegionFromText_NamedBasin(t *testing.T) {
	r := RegionFromText("average salinity in the Bay of Bengal last month")
	if r == nil || r.Name != "Bay of Bengal" {
		t.Fatalf("expected Bay of Bengal, got %+v", r)
	}
}

func TestRegionFromText_OceanIsLastResort(t *testing.T) {
	r := RegionFromText("warm water in the equatorial Indian ocean")
	if r == nil || r.Name != "Equatorial Indian" {
		t.Fatalf("expected Equatorial Indian, got %+v", r)
	}
}

func TestRegionFromText_Coordinates(t *testing.T) {
	r := RegionFromText("conditions near 12.5, 88.2 please")
	if r == nil {
		t.Fatal("expected a buffered box around the coordinates")
	}
	minLat, maxLat, minLon, maxLon := r.Bounds()
	if minLat != 10.5 || maxLat != 14.5 || minLon != 86.2 || maxLon != 90.2 {
		t.Errorf("unexpected bounds: %g %g %g %g", minLat, maxLat, minLon, maxLon)
	}
}

func TestRegionFromText_NoLocation(t *testing.T) {
	if r := RegionFromText("average temperature here"); r != nil {
		t.Fatalf("expected nil, got %+v", r)
	}
}
