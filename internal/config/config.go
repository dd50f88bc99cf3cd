// Package config loads and validates the YAML run configuration that drives
// pipeline assembly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultConfidence   = 0.95
	DefaultNMSOverlap   = 0.3
	DefaultMaxCacheSize = "1G"
	DefaultLayerName    = "detections"
)

// Service configures a remote XYZ tile source.
type Service struct {
	URL            string `yaml:"url"`
	Zoom           int    `yaml:"zoom"`
	Token          string `yaml:"token"`
	MaxConnections int    `yaml:"maxConnections"`
}

// NMS configures non-max suppression.
type NMS struct {
	Enabled bool    `yaml:"enabled"`
	Overlap float64 `yaml:"overlap"`
}

// RegionAction is one include or exclude step of the region filter, applied
// in file order.
type RegionAction struct {
	Action string   `yaml:"action"`
	Files  []string `yaml:"files"`
}

// Catalog configures the source-imagery catalog lookup stamped onto output
// features.
type Catalog struct {
	URL      string `yaml:"url"`
	TypeName string `yaml:"typeName"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// Output configures the feature sink.
type Output struct {
	Path         string `yaml:"path"`
	LayerName    string `yaml:"layerName"`
	Format       string `yaml:"format"`
	Append       bool   `yaml:"append"`
	GeometryType string `yaml:"geometryType"`
}

// Producer configures the provenance fields written on every feature.
type Producer struct {
	Username    string `yaml:"username"`
	Application string `yaml:"application"`
	Version     string `yaml:"version"`
}

// Segmentation configures raster-to-polygon conversion for segmentation
// models.
type Segmentation struct {
	Method  string  `yaml:"method"`
	Epsilon float64 `yaml:"epsilon"`
	MinArea float64 `yaml:"minArea"`
}

// Run is the full run configuration.
type Run struct {
	// Exactly one of Image and Service must be set.
	Image   string   `yaml:"image"`
	Service *Service `yaml:"service"`

	// BBox is west, south, east, north in WGS84 degrees. Optional for local
	// images, mandatory for map services.
	BBox []float64 `yaml:"bbox"`

	MaxCacheSize string `yaml:"maxCacheSize"`

	Model      string  `yaml:"model"`
	Confidence float64 `yaml:"confidence"`

	WindowSizes  []int `yaml:"windowSizes"`
	WindowSteps  []int `yaml:"windowSteps"`
	ResampleSize int   `yaml:"resampleSize"`

	NMS NMS `yaml:"nms"`

	IncludeLabels []string       `yaml:"includeLabels"`
	ExcludeLabels []string       `yaml:"excludeLabels"`
	Regions       []RegionAction `yaml:"regions"`

	Catalog *Catalog `yaml:"catalog"`

	Output      Output            `yaml:"output"`
	ExtraFields map[string]string `yaml:"extraFields"`
	Producer    *Producer         `yaml:"producerInfo"`

	Segmentation *Segmentation `yaml:"segmentation"`

	Quiet bool `yaml:"quiet"`
}

// Load reads, defaults and validates a run configuration file.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a run configuration from YAML bytes.
func Parse(data []byte) (*Run, error) {
	var run Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	run.applyDefaults()
	if err := run.validate(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Run) applyDefaults() {
	if r.Confidence == 0 {
		r.Confidence = DefaultConfidence
	}
	if r.NMS.Enabled && r.NMS.Overlap == 0 {
		r.NMS.Overlap = DefaultNMSOverlap
	}
	if r.MaxCacheSize == "" {
		r.MaxCacheSize = DefaultMaxCacheSize
	}
	if r.Output.LayerName == "" {
		r.Output.LayerName = DefaultLayerName
	}
	if r.Output.Format == "" {
		r.Output.Format = "geojson"
	}
	if r.Output.GeometryType == "" {
		r.Output.GeometryType = "polygon"
	}
}

func (r *Run) validate() error {
	if r.Model == "" {
		return fmt.Errorf("config: model package path is required")
	}
	if r.Output.Path == "" {
		return fmt.Errorf("config: output.path is required")
	}
	if r.Output.Format != "geojson" {
		return fmt.Errorf("config: unsupported output format %q", r.Output.Format)
	}
	if g := r.Output.GeometryType; g != "polygon" && g != "point" {
		return fmt.Errorf("config: unsupported geometry type %q", g)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("config: confidence %v out of range [0,1]", r.Confidence)
	}
	if r.NMS.Enabled && (r.NMS.Overlap <= 0 || r.NMS.Overlap > 1) {
		return fmt.Errorf("config: nms.overlap %v out of range (0,1]", r.NMS.Overlap)
	}
	if len(r.BBox) != 0 && len(r.BBox) != 4 {
		return fmt.Errorf("config: bbox needs 4 values (west south east north), got %d", len(r.BBox))
	}
	if r.Service != nil {
		if r.Service.URL == "" {
			return fmt.Errorf("config: service.url is required")
		}
		if r.Service.Zoom <= 0 {
			return fmt.Errorf("config: service.zoom must be positive")
		}
		if len(r.BBox) != 4 {
			return fmt.Errorf("config: bbox is required with a map service source")
		}
	}
	if len(r.IncludeLabels) > 0 && len(r.ExcludeLabels) > 0 {
		return fmt.Errorf("config: includeLabels and excludeLabels are mutually exclusive")
	}
	for _, size := range r.WindowSizes {
		if size <= 0 {
			return fmt.Errorf("config: window size %d must be positive", size)
		}
	}
	for _, step := range r.WindowSteps {
		if step <= 0 {
			return fmt.Errorf("config: window step %d must be positive", step)
		}
	}
	if _, err := r.CacheBytes(); err != nil {
		return err
	}
	return nil
}

// CacheBytes parses the cache budget, accepting K, M and G suffixes.
func (r *Run) CacheBytes() (int64, error) {
	s := strings.TrimSpace(r.MaxCacheSize)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1<<10, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1<<20, s[:len(s)-1]
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "g"):
		mult, s = 1<<30, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid maxCacheSize %q", r.MaxCacheSize)
	}
	return n * mult, nil
}
