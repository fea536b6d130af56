package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// strip builds a one-row face-id map over the given face indices.
func strip(ids ...int32) *FaceIDMap {
	m := NewFaceIDMap(len(ids), 1)
	copy(m.IDs, ids)
	return m
}

func rowMask(bits ...bool) *Mask {
	m := NewMask(len(bits), 1)
	copy(m.Pix, bits)
	return m
}

func TestFuseSmallestMaskWinsRegardlessOfOrder(t *testing.T) {
	ids := strip(0, 0, 1, 1)
	body := rowMask(true, true, true, true)
	head := rowMask(true, true, false, false)
	centroids := []Vec3{{0, 0, 0}, {1, 0, 0}}
	names := []string{"head", "body"}

	oneView, _ := FuseMasks(FuseInput{
		Views:     []ViewMasks{{Masks: map[string]*Mask{"body": body, "head": head}, FaceIDs: ids}},
		Centroids: centroids,
		PartNames: names,
	})
	assert.Equal(t, []int{0, 1}, oneView)

	for _, views := range [][]ViewMasks{
		{{Masks: map[string]*Mask{"body": body}, FaceIDs: ids}, {Masks: map[string]*Mask{"head": head}, FaceIDs: ids}},
		{{Masks: map[string]*Mask{"head": head}, FaceIDs: ids}, {Masks: map[string]*Mask{"body": body}, FaceIDs: ids}},
	} {
		labels, stats := FuseMasks(FuseInput{Views: views, Centroids: centroids, PartNames: names})
		assert.Equal(t, []int{0, 1}, labels)
		assert.Equal(t, 2, stats.PartsFound)
	}
}

func symmetricScene(rightY float64) FuseInput {
	// faces 0,1 on the left, 2,3 on the right, 4 on the midline
	centroids := []Vec3{
		{-1, 0, 0}, {-1, 0.1, 0},
		{1, rightY, 0}, {1, rightY + 0.1, 0},
		{0, 0, 0},
	}
	ids := strip(0, 1, 2, 3, 4)
	return FuseInput{
		Views: []ViewMasks{{
			Masks: map[string]*Mask{
				"front_left_leg": rowMask(true, true, false, false, false),
				"body":           rowMask(false, false, false, false, true),
			},
			FaceIDs: ids,
		}},
		Centroids: centroids,
		PartNames: []string{"body", "front_left_leg", "front_right_leg"},
	}
}

func TestFuseSymmetricCompletion(t *testing.T) {
	in := symmetricScene(0)
	labels, stats := FuseMasks(in)
	assert.Equal(t, []int{1, 1, 2, 2, 0}, labels)
	require.Len(t, stats.Clones, 1)
	assert.Equal(t, SymmetricClone{Source: "front_left_leg", Target: "front_right_leg", Faces: 2}, stats.Clones[0])

	// every cloned face sits within the clone distance of a mirrored source
	for f, l := range labels {
		if l != 2 {
			continue
		}
		best := 1e9
		for s, sl := range labels {
			if sl != 1 {
				continue
			}
			m := in.Centroids[s]
			m[0] = -m[0]
			best = min(best, m.Sub(in.Centroids[f]).Norm())
		}
		assert.Less(t, best, DefaultCloneDistance)
	}
}

func TestFuseSymmetricCompletionRespectsDistance(t *testing.T) {
	labels, stats := FuseMasks(symmetricScene(1))
	require.Len(t, stats.Clones, 1)
	assert.Zero(t, stats.Clones[0].Faces)
	assert.NotContains(t, labels, 2)
	assert.NotContains(t, labels, Unassigned)
}

func TestFuseNoMasksDefaultsToFirstPart(t *testing.T) {
	labels, stats := FuseMasks(FuseInput{
		Views:     []ViewMasks{{Masks: map[string]*Mask{}, FaceIDs: strip(0, 1, 2)}},
		Centroids: []Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}},
		PartNames: []string{"a", "b"},
	})
	assert.Equal(t, []int{0, 0, 0}, labels)
	assert.True(t, stats.Defaulted)
}

func TestFuseIgnoresUnknownAndMismatchedMasks(t *testing.T) {
	labels, _ := FuseMasks(FuseInput{
		Views: []ViewMasks{{
			Masks: map[string]*Mask{
				"tail":  rowMask(true, true),
				"wheel": rowMask(true),
				"b":     rowMask(false, true),
			},
			FaceIDs: strip(0, 1),
		}},
		Centroids: []Vec3{{0, 0, 0}, {1, 0, 0}},
		PartNames: []string{"a", "b"},
	})
	assert.Equal(t, []int{1, 1}, labels)
}

func TestFuseAppearanceOrderWithoutNames(t *testing.T) {
	labels, _ := FuseMasks(FuseInput{
		Views: []ViewMasks{{
			Masks:   map[string]*Mask{"y": rowMask(false, true), "x": rowMask(true, false)},
			FaceIDs: strip(0, 1),
		}},
		Centroids: []Vec3{{0, 0, 0}, {1, 0, 0}},
	})
	assert.Equal(t, []int{0, 1}, labels)
}

func TestFuseLeavesNoFaceUnassigned(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		faces := rapid.IntRange(1, 30).Draw(t, "faces")
		width := rapid.IntRange(1, 12).Draw(t, "width")
		names := []string{"head", "body", "left_wing", "right_wing"}

		centroids := make([]Vec3, faces)
		for i := range centroids {
			centroids[i] = genVec(t, "c")
		}
		var views []ViewMasks
		for v := rapid.IntRange(0, 3).Draw(t, "views"); v > 0; v-- {
			ids := NewFaceIDMap(width, 1)
			for p := range ids.IDs {
				ids.IDs[p] = int32(rapid.IntRange(-1, faces-1).Draw(t, "id"))
			}
			masks := map[string]*Mask{}
			for _, n := range names {
				if rapid.Bool().Draw(t, "has_"+n) {
					m := NewMask(width, 1)
					for p := range m.Pix {
						m.Pix[p] = rapid.Bool().Draw(t, "px")
					}
					masks[n] = m
				}
			}
			views = append(views, ViewMasks{Masks: masks, FaceIDs: ids})
		}

		labels, _ := FuseMasks(FuseInput{Views: views, Centroids: centroids, PartNames: names})
		if len(labels) != faces {
			t.Fatalf("got %d labels for %d faces", len(labels), faces)
		}
		for i, l := range labels {
			if l < 0 || l >= len(names) {
				t.Fatalf("face %d label %d out of range", i, l)
			}
		}
	})
}
