// Package model loads detection model packages and provides the detector
// abstraction the pipeline's inference stage runs. A model package is a zip
// archive carrying a metadata document and the model weights; only the
// metadata drives pipeline topology, window planning, and validation.
package model

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// ErrUnsupportedModelType is returned when segmentation post-processing is
// requested for a model that is not segmentation-capable.
var ErrUnsupportedModelType = errors.New("unsupported model type")

// Model categories.
const (
	CategoryDetection    = "detection"
	CategorySegmentation = "segmentation"
)

// Metadata is the read-only description of a loaded model.
type Metadata struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ColorMode   string    `json:"color_mode"`
	Created     time.Time `json:"created"`

	// SizeWidth and SizeHeight are the model's fixed input size in pixels.
	SizeWidth  int `json:"width"`
	SizeHeight int `json:"height"`

	// StepWidth and StepHeight are the recommended sliding step for the
	// native size; zero means step equals size (no overlap).
	StepWidth  int `json:"step_width,omitempty"`
	StepHeight int `json:"step_height,omitempty"`

	// Labels are the classes the model was trained on.
	Labels []string `json:"labels"`

	// BBox is the geographic west, south, east, north extent the model was
	// trained for, informational only.
	BBox [4]float64 `json:"bounding_box"`
}

// Size returns the model's fixed input size.
func (m *Metadata) Size() image.Point { return image.Pt(m.SizeWidth, m.SizeHeight) }

// AspectRatio returns height/width of the model input.
func (m *Metadata) AspectRatio() float64 {
	if m.SizeWidth == 0 {
		return 1
	}
	return float64(m.SizeHeight) / float64(m.SizeWidth)
}

// DefaultStep returns the recommended sliding step for a chosen window size,
// scaling the trained step proportionally. Without a trained step the window
// size itself is returned.
func (m *Metadata) DefaultStep(size image.Point) image.Point {
	if m.StepWidth <= 0 || m.StepHeight <= 0 || m.SizeWidth == 0 || m.SizeHeight == 0 {
		return size
	}
	return image.Pt(
		int(math.Round(float64(m.StepWidth)/float64(m.SizeWidth)*float64(size.X))),
		int(math.Round(float64(m.StepHeight)/float64(m.SizeHeight)*float64(size.Y))),
	)
}

// TrainingBound returns the geographic training extent as a bound.
func (m *Metadata) TrainingBound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{m.BBox[0], m.BBox[1]},
		Max: orb.Point{m.BBox[2], m.BBox[3]},
	}
}

// Package is a loaded model package.
type Package struct {
	Metadata Metadata
}

// metadataEntry is the metadata document's name inside the package archive.
const metadataEntry = "metadata.json"

// LoadPackage opens a model package archive and decodes its metadata. The
// weights entries are left on disk; the built-in detector does not need
// them and external engines read the archive themselves.
func LoadPackage(path string) (*Package, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model package %q: %w", path, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		if entry.Name != metadataEntry {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read model metadata: %w", err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read model metadata: %w", err)
		}

		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("invalid model metadata: %w", err)
		}
		if meta.SizeWidth <= 0 || meta.SizeHeight <= 0 {
			return nil, fmt.Errorf("invalid model metadata: non-positive model size %dx%d", meta.SizeWidth, meta.SizeHeight)
		}
		if len(meta.Labels) == 0 {
			return nil, fmt.Errorf("invalid model metadata: no labels")
		}
		return &Package{Metadata: meta}, nil
	}
	return nil, fmt.Errorf("model package %q has no %s", path, metadataEntry)
}
