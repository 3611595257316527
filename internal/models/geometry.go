package models

import (
	"fmt"
	"math"
)

// Point is a frame-pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a closed zone outline; the last vertex connects back to the first.
type Polygon []Point

const boundaryEpsilon = 1e-9

// ValidateZones checks a zone list of a start request.
func ValidateZones(zones []Polygon) error {
	if len(zones) == 0 {
		return fmt.Errorf("%w: no zones given", ErrInvalidZone)
	}
	for i, p := range zones {
		if len(p) < 3 {
			return fmt.Errorf("%w: zone %d has %d points, need at least 3", ErrInvalidZone, i, len(p))
		}
	}
	return nil
}

// Contains reports whether p lies inside the polygon or on its boundary.
func (poly Polygon) Contains(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, p) {
			return true
		}
		if (b.Y > p.Y) != (a.Y > p.Y) {
			x := (a.X-b.X)*(p.Y-b.Y)/(a.Y-b.Y) + b.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > boundaryEpsilon*math.Max(1, math.Hypot(b.X-a.X, b.Y-a.Y)) {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-boundaryEpsilon && p.X <= math.Max(a.X, b.X)+boundaryEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-boundaryEpsilon && p.Y <= math.Max(a.Y, b.Y)+boundaryEpsilon
}
