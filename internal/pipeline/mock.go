package pipeline

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/geometry"
	"lumen-pipeline/internal/shape"
)

// Seed derives a stable generator seed from the normalized form of text.
func Seed(text string) uint64 {
	return xxhash.Sum64String(cache.Normalize(text))
}

// ProceduralCloud is the safety net: a noisy sphere shell with part ids drawn
// uniformly over numParts. It is a pure function of (seed, total, numParts).
func ProceduralCloud(seed uint64, total, numParts int) *geometry.Sample {
	numParts = min(max(numParts, 1), geometry.MaxParts)
	total = max(total, 1)
	rng := geometry.NewRand(seed)

	points := make([]geometry.Vec3, total)
	ids := make([]uint8, total)
	for i := range points {
		theta := rng.Float64() * 2 * math.Pi
		phi := rng.Float64() * math.Pi
		r := 0.8 + rng.NormFloat64()*0.1
		points[i] = geometry.Vec3{
			r * math.Sin(phi) * math.Cos(theta),
			r * math.Sin(phi) * math.Sin(theta),
			r * math.Cos(phi),
		}
		ids[i] = uint8(rng.IntN(numParts))
	}

	positions := geometry.NormalizePositions(points)
	return &geometry.Sample{Positions: positions, PartIDs: ids, BoundingBox: shape.Bounds(positions)}
}
