// Package pipeline assembles the processing graph for one run: it resolves
// the coordinate relationship between the image and the requested area,
// plans the sliding windows, builds the region filter, decides which
// optional stages exist, and wires everything into a ready-to-run graph.
package pipeline

import (
	"fmt"
	"image"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/openterrain/geodetect/internal/config"
	"github.com/openterrain/geodetect/internal/geometry"
	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/model"
	"github.com/openterrain/geodetect/internal/nodes"
	"github.com/openterrain/geodetect/internal/raster"
	"github.com/openterrain/geodetect/internal/region"
	"github.com/openterrain/geodetect/internal/window"
)

// Assembler builds the graph for one run configuration. It is
// single-threaded and performs no I/O beyond opening the image, the model
// package, and the region-filter files.
type Assembler struct {
	Config *config.Run

	// Rasters caches opened local datasets. Optional; Assemble creates one
	// when nil.
	Rasters *raster.Cache

	// AppName and AppVersion fill the producer fields on output features.
	AppName    string
	AppVersion string
}

// Build is a fully wired, not yet executed pipeline.
type Build struct {
	Graph   *graph.Graph
	Variant Variant

	Extent *geometry.Extent
	Plan   window.Plan
	Model  *model.Metadata
}

// Node looks up an assembled node by its well-known name.
func (b *Build) Node(name string) *graph.Node { return b.Graph.Node(name) }

// Assemble resolves the run configuration into a wired graph. All
// configuration contradictions surface here, before any execution begins.
func (a *Assembler) Assemble() (*Build, error) {
	cfg := a.Config
	if a.Rasters == nil {
		a.Rasters = raster.NewCache()
	}

	pkg, err := model.LoadPackage(cfg.Model)
	if err != nil {
		return nil, err
	}
	meta := &pkg.Metadata
	if !cfg.Quiet {
		logModelBanner(meta)
	}

	if err := validateWindows(cfg, meta); err != nil {
		return nil, err
	}

	var segParams *model.SegmentationParams
	if cfg.Segmentation != nil {
		segParams = &model.SegmentationParams{
			Method:  cfg.Segmentation.Method,
			Epsilon: cfg.Segmentation.Epsilon,
			MinArea: cfg.Segmentation.MinArea,
		}
	}
	detector, err := pkg.NewDetector(cfg.Confidence, segParams)
	if err != nil {
		return nil, err
	}

	var userBBox *orb.Bound
	if len(cfg.BBox) == 4 {
		userBBox = &orb.Bound{
			Min: orb.Point{cfg.BBox[0], cfg.BBox[1]},
			Max: orb.Point{cfg.BBox[2], cfg.BBox[3]},
		}
	}

	variant := Variant{
		Segmentation: meta.Category == model.CategorySegmentation,
		LabelFilter:  len(cfg.IncludeLabels) > 0 || len(cfg.ExcludeLabels) > 0,
		NMS:          cfg.NMS.Enabled,
		FieldExtract: cfg.Catalog != nil,
		Resample:     cfg.ResampleSize > 0,
	}

	var (
		ext       *geometry.Extent
		mapClient *nodes.MapClient
	)
	switch {
	case cfg.Image != "" && cfg.Service != nil:
		return nil, fmt.Errorf("%w: image and service are mutually exclusive, configure one", ErrMissingInputSource)
	case cfg.Image != "":
		variant.Source = SourceLocal
		ds, err := a.Rasters.Open(cfg.Image)
		if err != nil {
			return nil, err
		}
		variant.RemoveAlpha = ds.HasAlpha
		ext, err = geometry.ResolveExtent(ds.Size, ds.PixelToProj, ds.SR, userBBox)
		if err != nil {
			return nil, err
		}
	case cfg.Service != nil:
		variant.Source = SourceService
		mapClient = nodes.NewMapClient(cfg.Service.URL, cfg.Service.Token, cfg.Service.Zoom, cfg.Service.MaxConnections)
		aff, err := mapClient.PixelToProj()
		if err != nil {
			return nil, err
		}
		// The service's pixel grid spans the whole world at the configured
		// zoom; the mandatory bounding box carves the area of interest out
		// of the tile coverage.
		world := 256 << cfg.Service.Zoom
		ext, err = geometry.ResolveExtent(image.Pt(world, world), aff, geometry.WebMercator, userBBox)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrMissingInputSource
	}

	var catalogClient *nodes.CatalogClient
	if cfg.Catalog != nil {
		c := cfg.Catalog
		if c.Token == "" && (c.Username == "" || c.Password == "") {
			return nil, ErrMissingCredentials
		}
		catalogClient = nodes.NewCatalogClient(c.URL, c.TypeName, c.Username, c.Password, c.Token)
	}

	planner := &window.Planner{
		Sizes:        cfg.WindowSizes,
		Steps:        cfg.WindowSteps,
		ResampleSize: cfg.ResampleSize,
		ModelSize:    meta.Size(),
		AspectRatio:  meta.AspectRatio(),
		DefaultStep:  meta.DefaultStep,
	}
	plan, err := planner.Plan()
	if err != nil {
		return nil, err
	}

	builder := &region.Builder{
		Extent:     ext.Pixels,
		Step:       planner.PrimaryStep(),
		PixelToGeo: ext.PixelToGeo,
		SR:         ext.SR,
	}
	filter, err := builder.Build(regionActions(cfg.Regions))
	if err != nil {
		return nil, err
	}
	variant.RegionFilter = filter != nil

	cacheBytes, err := cfg.CacheBytes()
	if err != nil {
		return nil, err
	}
	// Half the cache budget becomes read-ahead between raster ingestion and
	// downstream consumption, split per stage by payload size.
	bufferSize := cacheBytes / 2
	primary := planner.PrimarySize()
	blockBuffer := readAhead(bufferSize, int64(nodes.BlockSize*nodes.BlockSize*4))
	subsetBuffer := readAhead(bufferSize, int64(primary.X*primary.Y*4))
	if !cfg.Quiet {
		log.Printf("reading with a %d byte buffer (half of the %s cache budget): %d blocks, %d windows ahead",
			bufferSize, cfg.MaxCacheSize, blockBuffer, subsetBuffer)
	}

	g := graph.New()
	add := func(n *graph.Node) *graph.Node {
		if err == nil {
			err = g.Add(n)
		}
		return n
	}

	var source *graph.Node
	if variant.Source == SourceLocal {
		source = add(nodes.LocalSource(NodeSource, a.Rasters))
		source.SetAttr("path", cfg.Image)
	} else {
		source = add(nodes.MapSource(NodeSource, mapClient))
	}
	source.SetAttr("aoi", ext.Pixels)

	if variant.RemoveAlpha {
		add(nodes.RemoveAlpha(NodeRemoveAlpha))
	}

	cache := add(nodes.BlockCache(NodeBlockCache, blockBuffer))
	cache.SetAttr("aoi", ext.Pixels)
	cache.SetAttr("plan", plan)

	border := add(nodes.SubsetWithBorder(NodeBorder))
	if variant.Resample {
		border.SetAttr("paddedSize", meta.Size())
	}

	if variant.RegionFilter {
		rf := add(nodes.SubsetRegionFilter(NodeRegionFilter))
		rf.SetAttr("filter", filter)
	}

	win := add(nodes.SlidingWindow(NodeWindow, subsetBuffer))
	win.SetAttr("aoi", ext.Pixels)
	win.SetAttr("plan", plan)
	if variant.Resample {
		win.SetAttr("resampledSize", scaleSize(cfg.ResampleSize, meta.AspectRatio()))
	}

	add(nodes.Detector(NodeDetector, detector))

	if variant.LabelFilter {
		lf := add(nodes.LabelFilter(NodeLabelFilter))
		if len(cfg.IncludeLabels) > 0 {
			lf.SetAttr("labels", labelSet(cfg.IncludeLabels))
			lf.SetAttr("mode", nodes.LabelInclude)
		} else {
			lf.SetAttr("labels", labelSet(cfg.ExcludeLabels))
			lf.SetAttr("mode", nodes.LabelExclude)
		}
	}

	if variant.NMS {
		nms := add(nodes.NonMaxSuppression(NodeNMS))
		nms.SetAttr("overlapThreshold", cfg.NMS.Overlap)
	}

	if !variant.Segmentation {
		add(nodes.BoxToPolygon(NodeBoxToPoly))
	}

	features := add(nodes.PredictionToFeature(NodeFeatures))
	features.SetAttr("pixelToGeo", ext.PixelToGeo)
	features.SetAttr("geometryType", cfg.Output.GeometryType)
	features.SetAttr("labels", meta.Labels)
	features.SetAttr("extraFields", cfg.ExtraFields)
	features.SetAttr("runID", uuid.NewString())
	if cfg.Producer != nil {
		features.SetAttr("producer", nodes.ProducerInfo{
			Username:    cfg.Producer.Username,
			Application: cfg.Producer.Application,
			Version:     cfg.Producer.Version,
		})
	} else if a.AppName != "" {
		features.SetAttr("producer", nodes.ProducerInfo{
			Application: a.AppName,
			Version:     a.AppVersion,
		})
	}

	if variant.FieldExtract {
		add(nodes.CatalogIDExtractor(NodeCatalog, catalogClient))
	}

	sink := add(nodes.FeatureSink(NodeSink))
	sink.SetAttr("path", cfg.Output.Path)
	sink.SetAttr("layerName", cfg.Output.LayerName)
	sink.SetAttr("append", cfg.Output.Append)

	if err != nil {
		return nil, err
	}
	for _, e := range variant.Edges() {
		if err := g.Connect(g.Node(e.From), e.Output, g.Node(e.To), e.Input); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	return &Build{Graph: g, Variant: variant, Extent: ext, Plan: plan, Model: meta}, nil
}

// validateWindows checks the window and resample sizes against the model's
// fixed input size.
func validateWindows(cfg *config.Run, meta *model.Metadata) error {
	if cfg.ResampleSize > 0 {
		if cfg.ResampleSize > meta.SizeWidth {
			return fmt.Errorf("%w: resample size %d, model input %d",
				ErrResampleTooLarge, cfg.ResampleSize, meta.SizeWidth)
		}
		return nil
	}
	for _, size := range cfg.WindowSizes {
		if size > meta.SizeWidth {
			return fmt.Errorf("%w: window size %d, model input %d (request a resample size to use larger windows)",
				ErrWindowTooLarge, size, meta.SizeWidth)
		}
	}
	return nil
}

// readAhead converts a byte budget into a channel capacity for payloads of
// the given size, clamped to keep degenerate budgets workable.
func readAhead(budget, itemBytes int64) int {
	n := budget / itemBytes
	if n < 1 {
		return 1
	}
	if n > 1024 {
		return 1024
	}
	return int(n)
}

func regionActions(in []config.RegionAction) []region.Action {
	out := make([]region.Action, len(in))
	for i, a := range in {
		out[i] = region.Action{Op: a.Action, Files: a.Files}
	}
	return out
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

func scaleSize(width int, aspectRatio float64) image.Point {
	return image.Pt(width, int(math.Round(aspectRatio*float64(width))))
}

func logModelBanner(meta *model.Metadata) {
	log.Printf("model: %s %s (%s)", meta.Name, meta.Version, meta.Category)
	if meta.Description != "" {
		log.Printf("model description: %s", meta.Description)
	}
	log.Printf("model input size: %dx%d, labels: %s",
		meta.SizeWidth, meta.SizeHeight, strings.Join(meta.Labels, ", "))
}
