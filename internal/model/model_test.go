package model

import (
	"archive/zip"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePackage creates a model package archive with the given metadata.
func writePackage(t *testing.T, meta Metadata) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.gdm")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(metadataEntry)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(meta))

	// A placeholder weights entry, as real packages carry.
	ww, err := zw.Create("weights.bin")
	require.NoError(t, err)
	_, err = ww.Write([]byte{0xde, 0xad})
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func testMetadata(category string) Metadata {
	return Metadata{
		Name:       "airliner-spotter",
		Version:    "1.2.0",
		Category:   category,
		ColorMode:  "RGB",
		Created:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SizeWidth:  256,
		SizeHeight: 256,
		StepWidth:  128,
		StepHeight: 128,
		Labels:     []string{"airliner", "helicopter"},
		BBox:       [4]float64{-180, -90, 180, 90},
	}
}

func TestLoadPackage(t *testing.T) {
	t.Parallel()

	path := writePackage(t, testMetadata(CategoryDetection))
	pkg, err := LoadPackage(path)
	require.NoError(t, err)

	assert.Equal(t, "airliner-spotter", pkg.Metadata.Name)
	assert.Equal(t, image.Pt(256, 256), pkg.Metadata.Size())
	assert.Equal(t, []string{"airliner", "helicopter"}, pkg.Metadata.Labels)
}

func TestLoadPackage_Invalid(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadPackage("/nonexistent.gdm")
		assert.Error(t, err)
	})

	t.Run("no labels", func(t *testing.T) {
		t.Parallel()
		meta := testMetadata(CategoryDetection)
		meta.Labels = nil
		_, err := LoadPackage(writePackage(t, meta))
		assert.ErrorContains(t, err, "no labels")
	})

	t.Run("bad size", func(t *testing.T) {
		t.Parallel()
		meta := testMetadata(CategoryDetection)
		meta.SizeWidth = 0
		_, err := LoadPackage(writePackage(t, meta))
		assert.ErrorContains(t, err, "model size")
	})
}

func TestMetadataDerived(t *testing.T) {
	t.Parallel()

	meta := testMetadata(CategoryDetection)
	meta.SizeHeight = 128
	assert.InDelta(t, 0.5, meta.AspectRatio(), 1e-9)

	// Trained step is half the native size; a 100-wide window steps 50.
	meta.SizeHeight = 256
	assert.Equal(t, image.Pt(50, 50), meta.DefaultStep(image.Pt(100, 100)))

	meta.StepWidth = 0
	assert.Equal(t, image.Pt(100, 100), meta.DefaultStep(image.Pt(100, 100)), "no trained step means no overlap")
}

func TestNewDetector_CategoryValidation(t *testing.T) {
	t.Parallel()

	detection := &Package{Metadata: testMetadata(CategoryDetection)}
	_, err := detection.NewDetector(0.3, &SegmentationParams{Method: "douglas-peucker"})
	assert.ErrorIs(t, err, ErrUnsupportedModelType)

	segmentation := &Package{Metadata: testMetadata(CategorySegmentation)}
	det, err := segmentation.NewDetector(0.3, nil)
	require.NoError(t, err, "segmentation models pick up default raster-to-polygon params")
	assert.NotNil(t, det)

	_, err = segmentation.NewDetector(0.3, &SegmentationParams{Method: "marching-squares"})
	assert.ErrorIs(t, err, ErrUnsupportedModelType)
}

// blobImage draws a solid dark rectangle on a white background.
func blobImage(w, h int, blob image.Rectangle) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(blob) {
				img.Set(x, y, color.NRGBA{R: 30, G: 30, B: 160, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	return img
}

func TestContourDetector_FindsBlob(t *testing.T) {
	t.Parallel()

	pkg := &Package{Metadata: testMetadata(CategoryDetection)}
	det, err := pkg.NewDetector(0.2, nil)
	require.NoError(t, err)

	blob := image.Rect(40, 40, 100, 90)
	found, err := det.Detect(blobImage(160, 160, blob))
	require.NoError(t, err)
	require.NotEmpty(t, found, "a solid high-contrast rectangle must be detected")

	top := found[0]
	assert.True(t, top.Box.Overlaps(blob), "detection box %v should overlap the blob %v", top.Box, blob)
	assert.Contains(t, pkg.Metadata.Labels, top.Label)
	assert.Len(t, top.TopN, len(pkg.Metadata.Labels))
	assert.Nil(t, top.Polygon, "detection models do not produce outlines")

	// The ranking is normalized and ordered.
	total := 0.0
	for _, s := range top.TopN {
		total += s.Value
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.GreaterOrEqual(t, top.TopN[0].Value, top.TopN[1].Value)
}

// strip lists every pixel of a rectangle, standing in for one thresholded
// edge segment.
func strip(r image.Rectangle) []image.Point {
	var pts []image.Point
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			pts = append(pts, image.Pt(x, y))
		}
	}
	return pts
}

func TestMergeContours_JoinsBrokenOutline(t *testing.T) {
	t.Parallel()

	// Four disconnected edge strips around one rectangle, the way the
	// thresholded response breaks at corners.
	sides := [][]image.Point{
		strip(image.Rect(40, 38, 101, 40)),
		strip(image.Rect(40, 90, 101, 92)),
		strip(image.Rect(38, 40, 40, 90)),
		strip(image.Rect(101, 40, 103, 90)),
	}
	merged := mergeContours(sides)
	require.Len(t, merged, 1, "adjacent strips join into one outline")
	assert.Equal(t, image.Rect(38, 38, 103, 92), boundingBox(merged[0]))

	// A strip far away stays its own contour.
	merged = mergeContours([][]image.Point{
		strip(image.Rect(0, 0, 10, 2)),
		strip(image.Rect(100, 100, 110, 102)),
	})
	assert.Len(t, merged, 2)
}

func TestContourDetector_SegmentationOutline(t *testing.T) {
	t.Parallel()

	pkg := &Package{Metadata: testMetadata(CategorySegmentation)}
	det, err := pkg.NewDetector(0.2, &SegmentationParams{Method: "douglas-peucker", Epsilon: 2, MinArea: 100})
	require.NoError(t, err)

	found, err := det.Detect(blobImage(160, 160, image.Rect(30, 30, 110, 110)))
	require.NoError(t, err)
	require.NotEmpty(t, found)

	top := found[0]
	require.NotNil(t, top.Polygon, "segmentation produces outlines")
	ring := top.Polygon[0]
	assert.GreaterOrEqual(t, len(ring), 4, "a closed ring has at least four points")
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring is closed")
}

func TestContourDetector_EmptyImage(t *testing.T) {
	t.Parallel()

	pkg := &Package{Metadata: testMetadata(CategoryDetection)}
	det, err := pkg.NewDetector(0.2, nil)
	require.NoError(t, err)

	found, err := det.Detect(blobImage(64, 64, image.Rectangle{}))
	require.NoError(t, err)
	assert.Empty(t, found, "a blank image yields no detections")
}
