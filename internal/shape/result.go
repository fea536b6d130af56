// Package shape holds the generation result type shared by the cache, the
// pipeline and the HTTP layer.
package shape

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Tier names the strategy that produced a result.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
	TierMock     Tier = "mock"
)

// Point is a single xyz position.
type Point [3]float32

// BoundingBox is an axis-aligned box over a point cloud.
type BoundingBox struct {
	Min [3]float32 `json:"min"`
	Max [3]float32 `json:"max"`
}

// Bounds computes the box enclosing points. An empty slice yields the zero box.
func Bounds(points []Point) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	bb := BoundingBox{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			bb.Min[i] = min(bb.Min[i], p[i])
			bb.Max[i] = max(bb.Max[i], p[i])
		}
	}
	return bb
}

// Result is a part-labeled point cloud. Cached and GenerationTimeMS are
// request-local annotations stamped by the orchestrator.
type Result struct {
	Positions        []Point
	PartIDs          []uint8
	PartNames        []string
	TemplateType     string
	BoundingBox      BoundingBox
	Pipeline         Tier
	Cached           bool
	GenerationTimeMS float64
}

// wireResult is the JSON form used on the HTTP surface and in the durable cache.
type wireResult struct {
	Positions        string      `json:"positions"`
	PartIDs          []byte      `json:"part_ids"`
	PartNames        []string    `json:"part_names"`
	TemplateType     string      `json:"template_type"`
	BoundingBox      BoundingBox `json:"bounding_box"`
	Cached           bool        `json:"cached"`
	GenerationTimeMS float64     `json:"generation_time_ms"`
	Pipeline         Tier        `json:"pipeline"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	names := r.PartNames
	if names == nil {
		names = []string{}
	}
	return json.Marshal(wireResult{
		Positions:        EncodePositions(r.Positions),
		PartIDs:          r.PartIDs,
		PartNames:        names,
		TemplateType:     r.TemplateType,
		BoundingBox:      r.BoundingBox,
		Cached:           r.Cached,
		GenerationTimeMS: r.GenerationTimeMS,
		Pipeline:         r.Pipeline,
	})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	positions, err := DecodePositions(w.Positions)
	if err != nil {
		return err
	}
	*r = Result{
		Positions:        positions,
		PartIDs:          w.PartIDs,
		PartNames:        w.PartNames,
		TemplateType:     w.TemplateType,
		BoundingBox:      w.BoundingBox,
		Pipeline:         w.Pipeline,
		Cached:           w.Cached,
		GenerationTimeMS: w.GenerationTimeMS,
	}
	return nil
}

// EncodePositions packs points as little-endian float32 xyz triples, base64 encoded.
func EncodePositions(points []Point) string {
	buf := make([]byte, len(points)*12)
	for i, p := range points {
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint32(buf[i*12+j*4:], math.Float32bits(p[j]))
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePositions reverses EncodePositions.
func DecodePositions(s string) ([]Point, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	if len(buf)%12 != 0 {
		return nil, fmt.Errorf("decode positions: %d bytes is not a whole number of points", len(buf))
	}
	points := make([]Point, len(buf)/12)
	for i := range points {
		for j := 0; j < 3; j++ {
			points[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*12+j*4:]))
		}
	}
	return points, nil
}
