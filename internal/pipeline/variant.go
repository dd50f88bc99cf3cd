package pipeline

import "github.com/openterrain/geodetect/internal/graph"

// Source kinds.
const (
	SourceLocal   = "local"
	SourceService = "service"
)

// Node names used in the assembled graph.
const (
	NodeSource       = "source"
	NodeRemoveAlpha  = "removeAlpha"
	NodeBlockCache   = "blockCache"
	NodeBorder       = "border"
	NodeRegionFilter = "regionFilter"
	NodeWindow       = "slidingWindow"
	NodeDetector     = "detector"
	NodeLabelFilter  = "labelFilter"
	NodeNMS          = "nms"
	NodeBoxToPoly    = "boxToPoly"
	NodeFeatures     = "features"
	NodeCatalog      = "catalog"
	NodeSink         = "sink"
)

// Variant is the resolved topology of one run: which optional stages exist.
// It is computed once from the run configuration and the loaded inputs, then
// expanded into a concrete edge list, so every wiring combination can be
// inspected without executing anything.
type Variant struct {
	Source       string
	Segmentation bool
	RemoveAlpha  bool
	LabelFilter  bool
	NMS          bool
	RegionFilter bool
	FieldExtract bool
	Resample     bool
}

// nodeOrder lists the node names present in this variant, in pipeline order.
// Skipped stages simply do not appear; the wiring connects each survivor to
// the next.
func (v Variant) nodeOrder() []string {
	names := []string{NodeSource}
	if v.RemoveAlpha {
		names = append(names, NodeRemoveAlpha)
	}
	names = append(names, NodeBlockCache, NodeBorder)
	if v.RegionFilter {
		names = append(names, NodeRegionFilter)
	}
	names = append(names, NodeWindow, NodeDetector)
	if v.LabelFilter {
		names = append(names, NodeLabelFilter)
	}
	if v.NMS {
		names = append(names, NodeNMS)
	}
	if !v.Segmentation {
		names = append(names, NodeBoxToPoly)
	}
	names = append(names, NodeFeatures)
	if v.FieldExtract {
		names = append(names, NodeCatalog)
	}
	return append(names, NodeSink)
}

// portFor is the payload port each node produces on.
func portFor(name string) string {
	switch name {
	case NodeSource, NodeRemoveAlpha:
		return "blocks"
	case NodeBlockCache, NodeBorder, NodeRegionFilter, NodeWindow:
		return "subsets"
	case NodeDetector, NodeLabelFilter, NodeNMS, NodeBoxToPoly:
		return "predictions"
	default:
		return "features"
	}
}

// Edges expands the variant into the concrete edge list. Each edge's port is
// the one the upstream node produces; adjacent stages always share a payload
// kind with the cache and detector as the conversion points.
func (v Variant) Edges() []graph.Edge {
	order := v.nodeOrder()
	edges := make([]graph.Edge, 0, len(order)-1)
	for i := 0; i < len(order)-1; i++ {
		port := portFor(order[i])
		edges = append(edges, graph.Edge{
			From: order[i], Output: port,
			To: order[i+1], Input: port,
		})
	}
	return edges
}
