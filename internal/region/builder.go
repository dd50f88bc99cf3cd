package region

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/openterrain/geodetect/internal/geometry"
)

// Filter construction failures. All abort the run before execution starts.
var (
	// ErrUnsupportedGeometry is returned when a filter file contains a
	// feature whose geometry is not a polygon.
	ErrUnsupportedGeometry = errors.New("filter contains a geometry that is not a polygon")

	// ErrCRSMismatch is returned when a filter layer and the input image
	// disagree about geographic anchoring: one is CRS-anchored and the other
	// is local.
	ErrCRSMismatch = errors.New("filter and image spatial references do not match")

	// ErrUnknownAction is returned for a filter action other than "include"
	// or "exclude".
	ErrUnknownAction = errors.New("unknown filtering action")
)

// Action is one entry of the ordered filter definition: an operation
// ("include" or "exclude") and the GeoJSON files it applies.
type Action struct {
	Op    string   `yaml:"action"`
	Files []string `yaml:"files"`
}

// Builder assembles the composite region filter for a run.
type Builder struct {
	// Extent is the pixel-space area of interest the filter is scoped to.
	Extent image.Rectangle

	// Step is the mask sampling resolution, normally the primary window step.
	Step image.Point

	// PixelToGeo is the run's pixel→output-space transform chain.
	PixelToGeo geometry.Chain

	// SR is the run's output spatial reference.
	SR geometry.SpatialReference
}

// Build folds the ordered action list into a single filter. A nil filter
// (with nil error) means no filter definitions were supplied; downstream
// wiring treats that as a pass-through.
//
// Includes union polygons into the mask, excludes subtract them. When the
// very first action is an exclude, the full extent is included first so that
// an exclude-only definition does not start from an empty universe — a later
// exclude after an include subtracts from the included regions only.
func (b *Builder) Build(actions []Action) (*Filter, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	filter := NewFilter(b.Extent, b.Step)
	first := true
	for _, action := range actions {
		polys, err := b.loadPolygons(action.Files)
		if err != nil {
			return nil, err
		}
		switch action.Op {
		case "include":
			filter.add(polys)
		case "exclude":
			if first {
				log.Printf("filter excludes regions first; automatically including the full area of interest")
				filter.AddRect(b.Extent)
			}
			filter.subtract(polys)
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownAction, action.Op)
		}
		first = false
	}
	return filter, nil
}

// loadPolygons loads every polygon from the named files, reprojected into
// pixel space.
func (b *Builder) loadPolygons(files []string) ([]orb.Polygon, error) {
	var polys []orb.Polygon
	for _, file := range files {
		filePolys, err := b.loadFile(file)
		if err != nil {
			return nil, err
		}
		polys = append(polys, filePolys...)
	}
	return polys, nil
}

func (b *Builder) loadFile(file string) ([]orb.Polygon, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file %q: %w", file, err)
	}

	layerSR, err := layerReference(raw)
	if err != nil {
		return nil, fmt.Errorf("filter file %q: %w", file, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter file %q: %w", file, err)
	}

	// Both sides must agree about geographic anchoring before any
	// transform composition makes sense.
	if layerSR.IsLocal() != b.SR.IsLocal() {
		if layerSR.IsLocal() {
			return nil, fmt.Errorf("%w: %q has no spatial reference, but the input image does", ErrCRSMismatch, file)
		}
		return nil, fmt.Errorf("%w: input image has no spatial reference, but %q does", ErrCRSMismatch, file)
	}

	// Compose the layer's from-WGS84 leg onto the pixel chain, then invert
	// to get layer→pixel.
	chain := b.PixelToGeo
	if !b.SR.IsLocal() {
		fromLL, err := layerSR.FromWGS84()
		if err != nil {
			return nil, fmt.Errorf("filter file %q: %w", file, err)
		}
		chain = chain.Append(fromLL)
	}
	toPixel := chain.Inverse()

	polys := make([]orb.Polygon, 0, len(fc.Features))
	for _, feat := range fc.Features {
		poly, ok := feat.Geometry.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf("%w: file %q has a %s", ErrUnsupportedGeometry, file, feat.Geometry.GeoJSONType())
		}
		polys = append(polys, geometry.TransformPolygon(toPixel, poly))
	}
	return polys, nil
}

// layerReference extracts the layer's spatial reference from the legacy
// GeoJSON "crs" member. Absent means WGS84, per the GeoJSON default; a name
// of "local" (or "engineering") marks an unanchored layer.
func layerReference(raw []byte) (geometry.SpatialReference, error) {
	var envelope struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return geometry.Local, fmt.Errorf("failed to parse crs member: %w", err)
	}
	if envelope.CRS == nil {
		return geometry.WGS84, nil
	}
	name := envelope.CRS.Properties.Name
	switch {
	case name == "" || strings.Contains(name, "CRS84") || strings.Contains(name, "4326"):
		return geometry.WGS84, nil
	case strings.Contains(name, "3857"):
		return geometry.WebMercator, nil
	case strings.EqualFold(name, "local") || strings.EqualFold(name, "engineering"):
		return geometry.Local, nil
	default:
		return geometry.SpatialReference{Code: name}, nil
	}
}
