package domain

import "math"

// Well-known host model types. The bridge ships converters for these out of
// the box; anything else reaches the registry through bridgeable-type
// bindings or custom rules.

// Point is a 3D coordinate in host model units.
type Point struct {
	X, Y, Z float64
}

// Sub returns the vector from other to p.
func (p Point) Sub(other Point) Point {
	return Point{p.X - other.X, p.Y - other.Y, p.Z - other.Z}
}

// Dist returns the Euclidean distance to other.
func (p Point) Dist(other Point) float64 {
	d := p.Sub(other)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// BoundingBox is an axis-aligned box.
type BoundingBox struct {
	Min Point
	Max Point
}

// Transform is a rigid-body transform: 3x3 basis plus origin, row major.
type Transform struct {
	Basis  [9]float64
	Origin Point
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Basis: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Color is an RGB color as the host stores it.
type Color struct {
	R, G, B uint8
}

// ElementID is the host's stable element identifier.
type ElementID int64

// ParamType is the logical type of a host parameter slot.
type ParamType uint8

const (
	ParamUnknown ParamType = iota
	ParamNumber
	ParamInteger
	ParamText
	ParamBool
	ParamLength
	ParamArea
	ParamVolume
	ParamAngle
	ParamIdentifier
)

var paramTypeNames = map[ParamType]string{
	ParamUnknown:    "unknown",
	ParamNumber:     "number",
	ParamInteger:    "integer",
	ParamText:       "text",
	ParamBool:       "bool",
	ParamLength:     "length",
	ParamArea:       "area",
	ParamVolume:     "volume",
	ParamAngle:      "angle",
	ParamIdentifier: "identifier",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParameterDescriptor describes one parameter slot on a host type.
// Descriptors are produced once per host type shape and cached.
type ParameterDescriptor struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	ReadOnly bool      `json:"read_only"`
	Group    string    `json:"group,omitempty"`

	// Optional constraints, enforced by the parameter accessor's
	// validation chain. Nil means unconstrained.
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	MaxLen int      `json:"max_len,omitempty"`
}

// ElementDescriptor describes a host element type: its name, category and
// the parameter slots instances of it carry.
type ElementDescriptor struct {
	TypeName   string                `json:"type_name"`
	Category   string                `json:"category,omitempty"`
	Parameters []ParameterDescriptor `json:"parameters"`
}

// Parameter returns the descriptor for the named slot, if present.
func (d ElementDescriptor) Parameter(name string) (ParameterDescriptor, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterDescriptor{}, false
}

// GeometryOp names a pure geometry computation delegated to the host.
type GeometryOp string

const (
	GeomDistance     GeometryOp = "distance"
	GeomArea         GeometryOp = "area"
	GeomVolume       GeometryOp = "volume"
	GeomBoundingBox  GeometryOp = "bounding_box"
	GeomUnion        GeometryOp = "union"
	GeomIntersect    GeometryOp = "intersect"
	GeomDifference   GeometryOp = "difference"
	GeomProjection   GeometryOp = "projection"
	GeomIntersection GeometryOp = "intersection"
)
