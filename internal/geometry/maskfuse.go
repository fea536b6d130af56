package geometry

import (
	"slices"
	"strings"
)

// Unassigned marks a face without a part label.
const Unassigned = -1

// DefaultCloneDistance is the widest gap a mirrored label may bridge.
const DefaultCloneDistance = 0.3

// symmetricTokens are tried in order; the first token present in a name decides its counterpart.
var symmetricTokens = [][2]string{
	{"_left_", "_right_"},
	{"left_", "right_"},
	{"_left", "_right"},
}

// ViewMasks is the segmentation of one rendered view.
type ViewMasks struct {
	Masks   map[string]*Mask
	FaceIDs *FaceIDMap
}

// FuseInput is everything the mapper needs.
type FuseInput struct {
	Views     []ViewMasks
	Centroids []Vec3
	// PartNames fixes the label index of every part. Masks for other names are
	// ignored. When empty, parts are indexed in order of first appearance.
	PartNames []string
	// CloneDistance overrides DefaultCloneDistance when positive.
	CloneDistance float64
}

// SymmetricClone records one bilateral completion.
type SymmetricClone struct {
	Source, Target string
	Faces          int
}

// FuseStats summarizes a fusion run.
type FuseStats struct {
	Faces           int
	DirectlyLabeled int
	PartsFound      int
	Clones          []SymmetricClone
	NearestFilled   int
	Defaulted       bool
}

type maskEntry struct {
	part int
	mask *Mask
	ids  *FaceIDMap
	area int
}

// FuseMasks projects per-view part masks onto mesh faces and returns one
// part index per face. The result never contains Unassigned.
func FuseMasks(in FuseInput) ([]int, FuseStats) {
	numFaces := len(in.Centroids)
	labels := make([]int, numFaces)
	for i := range labels {
		labels[i] = Unassigned
	}
	stats := FuseStats{Faces: numFaces}
	if numFaces == 0 {
		return labels, stats
	}

	names := slices.Clone(in.PartNames)
	index := make(map[string]int, len(names))
	for i, n := range names {
		if _, ok := index[n]; !ok {
			index[n] = i
		}
	}
	fixed := len(names) > 0

	var entries []maskEntry
	found := map[int]bool{}
	for _, view := range in.Views {
		if view.FaceIDs == nil {
			continue
		}
		keys := make([]string, 0, len(view.Masks))
		for k := range view.Masks {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, name := range keys {
			m := view.Masks[name]
			if m == nil || m.Width != view.FaceIDs.Width || m.Height != view.FaceIDs.Height || len(m.Pix) != len(view.FaceIDs.IDs) {
				continue
			}
			idx, ok := index[name]
			if !ok {
				if fixed {
					continue
				}
				idx = len(names)
				index[name] = idx
				names = append(names, name)
			}
			area := m.Area()
			if area == 0 {
				continue
			}
			found[idx] = true
			entries = append(entries, maskEntry{part: idx, mask: m, ids: view.FaceIDs, area: area})
		}
	}
	stats.PartsFound = len(found)

	// Smallest mask claims first; a face keeps its first claim.
	slices.SortStableFunc(entries, func(a, b maskEntry) int { return a.area - b.area })
	for _, e := range entries {
		for p, on := range e.mask.Pix {
			if !on {
				continue
			}
			f := int(e.ids.IDs[p])
			if f < 0 || f >= numFaces || labels[f] != Unassigned {
				continue
			}
			labels[f] = e.part
			stats.DirectlyLabeled++
		}
	}

	if stats.DirectlyLabeled == 0 {
		for i := range labels {
			labels[i] = 0
		}
		stats.Defaulted = true
		return labels, stats
	}

	maxDist := in.CloneDistance
	if maxDist <= 0 {
		maxDist = DefaultCloneDistance
	}
	stats.Clones = completeSymmetry(labels, in.Centroids, names, index, maxDist)
	stats.NearestFilled = fillNearest(labels, in.Centroids)
	return labels, stats
}

// counterpart returns the mirrored name of name when it exists in index.
func counterpart(name string, index map[string]int) (string, bool) {
	for _, tok := range symmetricTokens {
		var pair string
		switch {
		case strings.Contains(name, tok[0]):
			pair = strings.ReplaceAll(name, tok[0], tok[1])
		case strings.Contains(name, tok[1]):
			pair = strings.ReplaceAll(name, tok[1], tok[0])
		default:
			continue
		}
		if _, ok := index[pair]; ok && pair != name {
			return pair, true
		}
	}
	return "", false
}

func completeSymmetry(labels []int, centroids []Vec3, names []string, index map[string]int, maxDist float64) []SymmetricClone {
	var clones []SymmetricClone
	checked := map[string]bool{}
	for _, name := range names {
		if checked[name] {
			continue
		}
		pair, ok := counterpart(name, index)
		if !ok {
			continue
		}
		checked[name], checked[pair] = true, true

		a, b := index[name], index[pair]
		countA, countB := countLabel(labels, a), countLabel(labels, b)
		switch {
		case countA > 0 && countB == 0:
			clones = append(clones, SymmetricClone{Source: name, Target: pair, Faces: mirrorLabels(labels, centroids, a, b, maxDist)})
		case countB > 0 && countA == 0:
			clones = append(clones, SymmetricClone{Source: pair, Target: name, Faces: mirrorLabels(labels, centroids, b, a, maxDist)})
		}
	}
	return clones
}

func countLabel(labels []int, l int) int {
	n := 0
	for _, v := range labels {
		if v == l {
			n++
		}
	}
	return n
}

// mirrorLabels reflects every source face across the x midline of the mesh
// and labels the nearest unlabeled face as target when it lies within maxDist.
func mirrorLabels(labels []int, centroids []Vec3, source, target int, maxDist float64) int {
	minX, maxX := centroids[0][0], centroids[0][0]
	for _, c := range centroids[1:] {
		minX = min(minX, c[0])
		maxX = max(maxX, c[0])
	}
	mid := (minX + maxX) / 2

	var free []int
	for i, l := range labels {
		if l == Unassigned {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return 0
	}
	pts := make([]Vec3, len(free))
	for i, f := range free {
		pts[i] = centroids[f]
	}
	tree := NewKDTree(pts)

	cloned := 0
	for i, l := range labels {
		if l != source {
			continue
		}
		r := centroids[i]
		r[0] = 2*mid - r[0]
		j, d := tree.Nearest(r)
		if j < 0 || d >= maxDist {
			continue
		}
		if f := free[j]; labels[f] == Unassigned {
			labels[f] = target
			cloned++
		}
	}
	return cloned
}

// fillNearest gives every unlabeled face the label of the closest labeled face.
func fillNearest(labels []int, centroids []Vec3) int {
	var pts []Vec3
	var owners []int
	for i, l := range labels {
		if l != Unassigned {
			pts = append(pts, centroids[i])
			owners = append(owners, l)
		}
	}
	if len(pts) == 0 {
		for i := range labels {
			labels[i] = 0
		}
		return len(labels)
	}
	tree := NewKDTree(pts)
	filled := 0
	for i, l := range labels {
		if l != Unassigned {
			continue
		}
		j, _ := tree.Nearest(centroids[i])
		labels[i] = owners[j]
		filled++
	}
	return filled
}
