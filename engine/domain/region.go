package domain

import "fmt"

// Point is a latitude/longitude vertex in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Region is a user-defined geographic area: a closed polygon ring given as an
// ordered vertex sequence. The closing edge from the last vertex back to the
// first is implicit. Bounding boxes are stored as 4-vertex rings so one code
// path serves both shapes.
type Region struct {
	Name     string  `json:"name,omitempty"`
	Vertices []Point `json:"vertices"`
}

// BoundingBox builds a rectangular Region from min/max latitude and longitude.
func BoundingBox(name string, minLat, maxLat, minLon, maxLon float64) Region {
	return Region{
		Name: name,
		Vertices: []Point{
			{Lat: minLat, Lon: minLon},
			{Lat: minLat, Lon: maxLon},
			{Lat: maxLat, Lon: maxLon},
			{Lat: maxLat, Lon: minLon},
		},
	}
}

// Bounds returns the axis-aligned bounding box of the region.
func (r Region) Bounds() (minLat, maxLat, minLon, maxLon float64) {
	if len(r.Vertices) == 0 {
		return 0, 0, 0, 0
	}
	minLat, maxLat = r.Vertices[0].Lat, r.Vertices[0].Lat
	minLon, maxLon = r.Vertices[0].Lon, r.Vertices[0].Lon
	for _, v := range r.Vertices[1:] {
		if v.Lat < minLat {
			minLat = v.Lat
		}
		if v.Lat > maxLat {
			maxLat = v.Lat
		}
		if v.Lon < minLon {
			minLon = v.Lon
		}
		if v.Lon > maxLon {
			maxLon = v.Lon
		}
	}
	return minLat, maxLat, minLon, maxLon
}

// IsBox reports whether the region is an axis-aligned rectangle: exactly
// four vertices that all sit on corners of the region's own bounding box.
func (r Region) IsBox() bool {
	if len(r.Vertices) != 4 {
		return false
	}
	minLat, maxLat, minLon, maxLon := r.Bounds()
	corners := map[Point]bool{
		{Lat: minLat, Lon: minLon}: false,
		{Lat: minLat, Lon: maxLon}: false,
		{Lat: maxLat, Lon: maxLon}: false,
		{Lat: maxLat, Lon: minLon}: false,
	}
	for _, v := range r.Vertices {
		if _, ok := corners[v]; !ok {
			return false
		}
		corners[v] = true
	}
	for _, seen := range corners {
		if !seen {
			return false
		}
	}
	return true
}

// Contains reports whether the point lies inside or on the boundary of the
// region, using ray casting over the closed ring.
func (r Region) Contains(lat, lon float64) bool {
	n := len(r.Vertices)
	if n < 3 {
		return false
	}
	// Boundary vertices count as inside.
	for _, v := range r.Vertices {
		if v.Lat == lat && v.Lon == lon {
			return true
		}
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := r.Vertices[i], r.Vertices[j]
		if onSegment(lat, lon, vi, vj) {
			return true
		}
		if (vi.Lat > lat) != (vj.Lat > lat) {
			x := (vj.Lon-vi.Lon)*(lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Validate checks the region invariants: at least three vertices, coordinates
// in range, a non-empty interior, and a non-self-intersecting ring.
func (r Region) Validate() error {
	if len(r.Vertices) < 3 {
		return NewValidationError("vertices", fmt.Sprintf("%d", len(r.Vertices)), ErrRegionTooFewVertices)
	}
	for i, v := range r.Vertices {
		if v.Lat < -90 || v.Lat > 90 {
			return NewValidationError("lat", fmt.Sprintf("vertex %d: %g", i, v.Lat), ErrCoordinateOutOfRange)
		}
		if v.Lon < -180 || v.Lon > 180 {
			return NewValidationError("lon", fmt.Sprintf("vertex %d: %g", i, v.Lon), ErrCoordinateOutOfRange)
		}
	}
	minLat, maxLat, minLon, maxLon := r.Bounds()
	if minLat == maxLat && minLon == maxLon {
		return NewValidationError("vertices", r.Name, ErrRegionEmptyInterior)
	}
	if r.selfIntersects() {
		return NewValidationError("vertices", r.Name, ErrRegionSelfIntersecting)
	}
	return nil
}

// selfIntersects checks every non-adjacent edge pair of the closed ring.
func (r Region) selfIntersects() bool {
	n := len(r.Vertices)
	edge := func(i int) (Point, Point) {
		return r.Vertices[i], r.Vertices[(i+1)%n]
	}
	for i := 0; i < n; i++ {
		a1, a2 := edge(i)
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue // adjacent through the closing edge
			}
			b1, b2 := edge(j)
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lon-o.Lon)
}

// segmentsCross reports proper intersection of segments a1a2 and b1b2.
func segmentsCross(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// onSegment reports whether (lat, lon) lies on the segment ab.
func onSegment(lat, lon float64, a, b Point) bool {
	p := Point{Lat: lat, Lon: lon}
	if cross(a, b, p) != 0 {
		return false
	}
	return minf(a.Lat, b.Lat) <= lat && lat <= maxf(a.Lat, b.Lat) &&
		minf(a.Lon, b.Lon) <= lon && lon <= maxf(a.Lon, b.Lon)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
