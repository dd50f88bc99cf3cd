package geometry

import "fmt"

// SpatialReference identifies a coordinate reference system by code, or is
// local when the code is empty. Two references are compatible only if both
// are local or both are CRS-anchored.
type SpatialReference struct {
	Code string
}

// Well-known spatial references.
var (
	Local       = SpatialReference{}
	WGS84       = SpatialReference{Code: "EPSG:4326"}
	WebMercator = SpatialReference{Code: "EPSG:3857"}
)

// IsLocal reports whether the reference has no geographic anchoring.
func (s SpatialReference) IsLocal() bool { return s.Code == "" }

func (s SpatialReference) String() string {
	if s.IsLocal() {
		return "local"
	}
	return s.Code
}

// FromWGS84 returns the transform from WGS84 lon/lat into this reference.
// Only WGS84 itself and Web Mercator are supported projections.
func (s SpatialReference) FromWGS84() (Transform, error) {
	switch s.Code {
	case WGS84.Code:
		return Identity{}, nil
	case WebMercator.Code:
		return ToMercator{}, nil
	case "":
		return nil, fmt.Errorf("no conversion from WGS84 to a local spatial reference")
	default:
		return nil, fmt.Errorf("unsupported spatial reference %q", s.Code)
	}
}
