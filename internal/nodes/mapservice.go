package nodes

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/openterrain/geodetect/internal/geometry"
	"github.com/openterrain/geodetect/internal/graph"
)

const (
	tileSize = 256

	// webMercatorHalfWorld is the extent of the web mercator projection
	// plane on each side of the origin, in meters.
	webMercatorHalfWorld = 20037508.342789244

	defaultMaxConnections = 8
)

// MapClient fetches tiles from an XYZ map service. The URL template uses
// {z}, {x} and {y} placeholders; a non-empty token is appended as a query
// parameter on every request.
type MapClient struct {
	URLTemplate    string
	Token          string
	Zoom           maptile.Zoom
	MaxConnections int

	http *http.Client
}

// NewMapClient builds a client for one service at one zoom level.
func NewMapClient(urlTemplate, token string, zoom int, maxConnections int) *MapClient {
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	return &MapClient{
		URLTemplate:    urlTemplate,
		Token:          token,
		Zoom:           maptile.Zoom(zoom),
		MaxConnections: maxConnections,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxConnections,
				MaxIdleConnsPerHost: maxConnections,
			},
		},
	}
}

// resolution is the ground size of one pixel at the client's zoom level.
func (c *MapClient) resolution() float64 {
	return 2 * webMercatorHalfWorld / (tileSize * math.Exp2(float64(c.Zoom)))
}

// PixelToProj returns the affine mapping the service's global pixel grid at
// this zoom level to web mercator coordinates.
func (c *MapClient) PixelToProj() (*geometry.Affine, error) {
	res := c.resolution()
	return geometry.NewAffine(res, 0, -webMercatorHalfWorld, 0, -res, webMercatorHalfWorld)
}

// PixelRect converts a WGS84 bounding box into the global pixel rectangle it
// covers at the client's zoom level.
func (c *MapClient) PixelRect(bound orb.Bound) (image.Rectangle, error) {
	aff, err := c.PixelToProj()
	if err != nil {
		return image.Rectangle{}, err
	}
	chain := geometry.Chain{geometry.ToMercator{}, aff.Inverse()}
	return geometry.BoundToRect(geometry.TransformBound(chain, bound)), nil
}

// tileURL expands the URL template for one tile.
func (c *MapClient) tileURL(t maptile.Tile) (string, error) {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	u, err := url.Parse(r.Replace(c.URLTemplate))
	if err != nil {
		return "", fmt.Errorf("map service: %w", err)
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// FetchTile downloads and decodes one tile.
func (c *MapClient) FetchTile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	u, err := c.tileURL(t)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("map service: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("map service: fetch tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map service: fetch tile %d/%d/%d: status %s", t.Z, t.X, t.Y, resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("map service: decode tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	return img, nil
}

// tileRect is the global pixel rectangle one tile covers.
func tileRect(t maptile.Tile) image.Rectangle {
	return image.Rect(
		int(t.X)*tileSize, int(t.Y)*tileSize,
		(int(t.X)+1)*tileSize, (int(t.Y)+1)*tileSize,
	)
}

// MapSource creates the block source for a remote tile service. Tiles
// covering the area of interest are fetched with up to MaxConnections
// in-flight requests and forwarded as blocks clipped to the area.
//
// Attributes: "aoi" (image.Rectangle).
func MapSource(name string, client *MapClient) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		aoi := attrRect(n, "aoi")

		minTX, minTY := aoi.Min.X/tileSize, aoi.Min.Y/tileSize
		maxTX, maxTY := (aoi.Max.X-1)/tileSize, (aoi.Max.Y-1)/tileSize

		sem := make(chan struct{}, client.MaxConnections)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for ty := minTY; ty <= maxTY; ty++ {
			for tx := minTX; tx <= maxTX; tx++ {
				if n.Stopped() {
					break
				}
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed {
					break
				}

				t := maptile.New(uint32(tx), uint32(ty), client.Zoom)
				sem <- struct{}{}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()

					img, err := client.FetchTile(ctx, t)
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
					rect := tileRect(t).Intersect(aoi)
					// Remap the decoded tile into global pixel space.
					block := image.NewNRGBA(rect)
					origin := tileRect(t).Min
					for y := rect.Min.Y; y < rect.Max.Y; y++ {
						for x := rect.Min.X; x < rect.Max.X; x++ {
							block.Set(x, y, img.At(x-origin.X, y-origin.Y))
						}
					}
					n.Send(ctx, PortBlocks, Block{Rect: rect, Image: block})
				}()
			}
		}
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return firstErr
	})
	n.DeclareOutput(PortBlocks)
	return n
}
