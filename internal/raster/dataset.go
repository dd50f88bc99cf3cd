// Package raster opens local imagery for the detection pipeline: decoding
// the pixels, reading georeferencing sidecars, and caching open datasets so
// the assembler and the source node share one decode.
package raster

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/openterrain/geodetect/internal/geometry"
)

// Dataset is an opened local raster: decoded pixels plus the georeferencing
// read from its sidecar files. Datasets are immutable once opened.
type Dataset struct {
	// Path is the image file path the dataset was opened from.
	Path string

	// Image holds the decoded pixels. The concrete type depends on the
	// source format (e.g. *image.NRGBA, *image.YCbCr).
	Image image.Image

	// Size is the raster dimensions in pixels.
	Size image.Point

	// PixelToProj maps pixel coordinates to the projected space described by
	// the world file. Identity scale when no world file was found.
	PixelToProj *geometry.Affine

	// SR is the spatial reference from the .prj sidecar, or local when the
	// image carries no CRS anchoring.
	SR geometry.SpatialReference

	// HasAlpha indicates an alpha (transparency) band in the source.
	HasAlpha bool
}

// Open decodes the image at path and reads its world-file and projection
// sidecars.
//
// # Georeferencing
//
// The pixel→projected transform comes from an ESRI world file next to the
// image: the format-specific extension (.pgw for .png, .jgw for .jpg, .tfw
// for .tif) or the generic .wld. Without a world file the transform is the
// identity and coordinates stay in pixel units.
//
// The CRS comes from a .prj sidecar holding an EPSG code (e.g. "EPSG:3857").
// Without one the dataset is local: geometrically described but not anchored
// to the Earth.
func Open(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	pixelToProj, err := readWorldFile(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &Dataset{
		Path:        path,
		Image:       img,
		Size:        image.Pt(bounds.Dx(), bounds.Dy()),
		PixelToProj: pixelToProj,
		SR:          readProjection(path),
		HasAlpha:    hasAlphaBand(img),
	}, nil
}

// hasAlphaBand reports whether the source carries a meaningful alpha band.
// Decoders hand back alpha-capable types for plain opaque truecolor images,
// so the decision needs the pixel data, not the Go type: an image that is
// fully opaque has no alpha band worth removing.
func hasAlphaBand(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// worldFileCandidates returns sidecar paths to probe, most specific first.
func worldFileCandidates(path string) []string {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.TrimSuffix(path, filepath.Ext(path))

	specific := map[string]string{
		".png":  ".pgw",
		".jpg":  ".jgw",
		".jpeg": ".jgw",
		".gif":  ".gfw",
		".tif":  ".tfw",
		".tiff": ".tfw",
	}
	candidates := make([]string, 0, 2)
	if s, ok := specific[ext]; ok {
		candidates = append(candidates, base+s)
	}
	return append(candidates, base+".wld")
}

// readWorldFile parses the six-coefficient world file for path, falling back
// to the identity transform when no sidecar exists.
//
// World file line order is x-scale, y-skew, x-skew, y-scale, x-origin,
// y-origin, describing x' = A·px + B·py + C and y' = D·px + E·py + F.
func readWorldFile(path string) (*geometry.Affine, error) {
	for _, candidate := range worldFileCandidates(path) {
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		defer f.Close()

		coeffs := make([]float64, 0, 6)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() && len(coeffs) < 6 {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			v, err := strconv.ParseFloat(line, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid world file %q: %w", candidate, err)
			}
			coeffs = append(coeffs, v)
		}
		if len(coeffs) != 6 {
			return nil, fmt.Errorf("invalid world file %q: expected 6 coefficients, got %d", candidate, len(coeffs))
		}
		// World file order: A D B E C F.
		return geometry.NewAffine(coeffs[0], coeffs[2], coeffs[4], coeffs[1], coeffs[3], coeffs[5])
	}
	return geometry.NewAffine(1, 0, 0, 0, 1, 0)
}

// readProjection reads the CRS code from the .prj sidecar, or local when
// absent or unreadable.
func readProjection(path string) geometry.SpatialReference {
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	raw, err := os.ReadFile(prj)
	if err != nil {
		return geometry.Local
	}
	code := strings.TrimSpace(string(raw))
	if code == "" {
		return geometry.Local
	}
	return geometry.SpatialReference{Code: code}
}

// Cache provides thread-safe caching of opened datasets so the extent
// resolution pass and the block source share a single decode per path.
type Cache struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewCache creates an empty dataset cache, ready for concurrent use.
func NewCache() *Cache {
	return &Cache{datasets: make(map[string]*Dataset)}
}

// Open returns the cached dataset for path, opening it on first use.
func (c *Cache) Open(path string) (*Dataset, error) {
	c.mu.RLock()
	if ds, ok := c.datasets[path]; ok {
		c.mu.RUnlock()
		return ds, nil
	}
	c.mu.RUnlock()

	ds, err := Open(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.datasets[path] = ds
	c.mu.Unlock()
	return ds, nil
}

// Evict removes a dataset from the cache, freeing its pixels for collection.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	delete(c.datasets, path)
	c.mu.Unlock()
}
