package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"lumen-pipeline/internal/shape"
)

func assertNormalized(t *testing.T, pts []shape.Point) {
	t.Helper()
	var mean [3]float64
	var maxAbs float64
	for _, p := range pts {
		for i := 0; i < 3; i++ {
			mean[i] += float64(p[i])
			maxAbs = math.Max(maxAbs, math.Abs(float64(p[i])))
		}
	}
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, mean[i]/float64(len(pts)), 1e-5)
	}
	assert.InDelta(t, 1, maxAbs, 1e-6)
}

func TestSamplePartsCountsAndProportions(t *testing.T) {
	small := NewBox(Vec3{-2, 0, 0}, Vec3{1, 1, 1})
	large := NewBox(Vec3{2, 0, 0}, Vec3{2, 2, 2})
	side := math.Sqrt(8)
	big := NewBox(Vec3{0, 3, 0}, Vec3{side, side, side}) // 8x the area of small

	s, err := SampleParts([]*Mesh{small, large, big}, 2048, NewRand(7))
	require.NoError(t, err)
	require.Len(t, s.Positions, 2048)
	require.Len(t, s.PartIDs, 2048)

	counts := map[uint8]int{}
	for _, id := range s.PartIDs {
		counts[id]++
	}
	assert.Len(t, counts, 3)
	assert.Greater(t, counts[2], counts[0])
	assert.Greater(t, counts[1], counts[0])
	assertNormalized(t, s.Positions)
}

func TestSamplePartsSkipsEmptyParts(t *testing.T) {
	placeholder := &Mesh{Vertices: []Vec3{{0, 0, 0}}}
	s, err := SampleParts([]*Mesh{placeholder, NewBox(Vec3{}, Vec3{1, 1, 1})}, 100, NewRand(1))
	require.NoError(t, err)
	require.Len(t, s.Positions, 100)
	for _, id := range s.PartIDs {
		assert.Equal(t, uint8(1), id)
	}
}

func TestSamplePartsFailsFastOnEmptyInput(t *testing.T) {
	_, err := SampleParts(nil, 10, NewRand(1))
	assert.ErrorIs(t, err, ErrEmptyMesh)

	_, err = SampleParts([]*Mesh{{}}, 10, NewRand(1))
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestSampleLabeledInheritsFaceLabels(t *testing.T) {
	a := NewBox(Vec3{-3, 0, 0}, Vec3{1, 1, 1})
	b := NewBox(Vec3{3, 0, 0}, Vec3{1, 1, 1})
	merged, owner := Merge([]*Mesh{a, b})
	labels := make([]int, len(owner))
	for i, o := range owner {
		labels[i] = o * 4
	}

	s, err := SampleLabeled(merged, labels, 500, NewRand(3))
	require.NoError(t, err)
	require.Len(t, s.Positions, 500)
	for i, id := range s.PartIDs {
		require.Contains(t, []uint8{0, 4}, id)
		// left box samples land on the negative x side after centring
		if id == 0 {
			assert.Less(t, s.Positions[i][0], float32(0))
		} else {
			assert.Greater(t, s.Positions[i][0], float32(0))
		}
	}
	assertNormalized(t, s.Positions)
}

func TestSampleLabeledRejectsMismatchedLabels(t *testing.T) {
	box := NewBox(Vec3{}, Vec3{1, 1, 1})
	_, err := SampleLabeled(box, []int{0, 1}, 10, NewRand(1))
	assert.Error(t, err)

	bad := make([]int, len(box.Faces))
	bad[0] = MaxParts
	_, err = SampleLabeled(box, bad, 10, NewRand(1))
	assert.Error(t, err)
}

func TestSamplingIsDeterministicForSeed(t *testing.T) {
	box := NewBox(Vec3{}, Vec3{1, 2, 3})
	a, err := SampleParts([]*Mesh{box}, 64, NewRand(42))
	require.NoError(t, err)
	b, err := SampleParts([]*Mesh{box}, 64, NewRand(42))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizePositions(t *testing.T) {
	single := NormalizePositions([]Vec3{{5, -3, 2}})
	assert.Equal(t, []shape.Point{{0, 0, 0}}, single)

	pts := NormalizePositions([]Vec3{{0, 0, 0}, {4, 0, 0}, {2, 2, 0}})
	assertNormalized(t, pts)

	assert.Empty(t, NormalizePositions(nil))
}

func TestAllocatePoints(t *testing.T) {
	assert.Equal(t, []int{1, 8}, AllocatePoints([]float64{1, 8}, 9))
	assert.Equal(t, []int{0, 5}, AllocatePoints([]float64{0, 3}, 5))
	assert.Equal(t, []int{0, 0}, AllocatePoints([]float64{0, 0}, 5))

	rapid.Check(t, func(t *rapid.T) {
		weights := rapid.SliceOfN(rapid.Float64Range(0, 100), 1, 40).Draw(t, "weights")
		total := rapid.IntRange(1, 5000).Draw(t, "total")
		counts := AllocatePoints(weights, total)

		live, sum := 0, 0
		for i, c := range counts {
			sum += c
			if weights[i] > 0 {
				live++
				if total >= liveCount(weights) && c < 1 {
					t.Fatalf("part %d with weight %v got no points", i, weights[i])
				}
			} else if c != 0 {
				t.Fatalf("zero-weight part %d got %d points", i, c)
			}
		}
		if live > 0 && sum != total {
			t.Fatalf("allocated %d of %d", sum, total)
		}
	})
}

func liveCount(weights []float64) int {
	n := 0
	for _, w := range weights {
		if w > 0 {
			n++
		}
	}
	return n
}
