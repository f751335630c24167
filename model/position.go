package model

import "math"

// Position is a static 2-D placement used for visualization and for the
// propagation delay of wireless cells. Units are metres.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sub returns p - o.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y}
}

// Norm returns the Euclidean length of p.
func (p Position) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// DistanceTo returns the distance between two positions.
func (p Position) DistanceTo(o Position) float64 {
	return p.Sub(o).Norm()
}

// Rectangle bounds a region of the plane, inclusive on every edge.
type Rectangle struct {
	XMin float64 `json:"x_min" yaml:"x_min"`
	XMax float64 `json:"x_max" yaml:"x_max"`
	YMin float64 `json:"y_min" yaml:"y_min"`
	YMax float64 `json:"y_max" yaml:"y_max"`
}

// Contains reports whether p lies inside r.
func (r Rectangle) Contains(p Position) bool {
	return p.X >= r.XMin && p.X <= r.XMax && p.Y >= r.YMin && p.Y <= r.YMax
}

// Clamp returns p moved to the nearest point inside r.
func (r Rectangle) Clamp(p Position) Position {
	return Position{
		X: math.Min(math.Max(p.X, r.XMin), r.XMax),
		Y: math.Min(math.Max(p.Y, r.YMin), r.YMax),
	}
}
