// Package geometry provides the coordinate transform layer for the detection
// pipeline: invertible transforms between pixel, projected, and geographic
// (WGS84) space, and the reconciliation of a user-supplied bounding box with
// an image's pixel extent.
//
// # Coordinate Spaces
//
// Three spaces are involved:
//
//   - Pixel space: 0-based integer raster coordinates, (0,0) at the top-left,
//     X rightward, Y downward.
//   - Projected space: the image's native projected CRS, e.g. Web Mercator
//     (EPSG:3857), in projection units (usually meters).
//   - Geographic space: WGS84 longitude/latitude (EPSG:4326), the output
//     space for emitted features.
//
// # Transform Chains
//
// Individual transforms (affine pixel→projected, map projections) implement
// the Transform interface and compose into a Chain. A Chain applies its
// members in order; Inverse returns a Chain that applies each member's
// inverse in reverse order, so chain.Inverse().Inverse() is behaviorally
// equivalent to the original chain.
//
// # Spatial References
//
// A SpatialReference is either local (no geographic anchoring, e.g. a plain
// PNG with a world file but no CRS) or anchored to a named CRS. Imagery
// without anchoring runs in a degraded mode: output stays in native space and
// geographic bounding boxes cannot be honored.
package geometry
