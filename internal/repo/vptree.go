package repo

import (
	"container/heap"
	"math"
	"sort"

	"github.com/viant/vec/search"

	"github.com/xxxsen/contentvec/internal/model"
)

// pruneSlack absorbs float rounding in the triangle inequality checks.
const pruneSlack = 1e-4

type vecPoint struct {
	seq         int64
	contentType model.ContentType
	vec         search.Float32s
	norm        float64
}

func newVecPoint(seq int64, contentType model.ContentType, vec []float32) vecPoint {
	v := search.Float32s(vec)
	p := vecPoint{seq: seq, contentType: contentType, vec: v}
	if v.Magnitude() > 0 {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		p.norm = math.Sqrt(sum)
	}
	return p
}

// similarity is the cosine similarity of two points, 0 when either is a
// zero vector. It accumulates in float64: acos near 1 magnifies float32
// rounding past pruneSlack.
func similarity(a, b *vecPoint) float64 {
	if a.norm == 0 || b.norm == 0 || len(a.vec) != len(b.vec) {
		return 0
	}
	var dot float64
	for i, x := range a.vec {
		dot += float64(x) * float64(b.vec[i])
	}
	cos := dot / (a.norm * b.norm)
	if cos > 1 {
		return 1
	}
	if cos < -1 {
		return -1
	}
	return cos
}

type vpNode struct {
	point   int
	radius  float64
	inside  *vpNode
	outside *vpNode
}

// vpTree is a vantage-point tree over angular distance. Angular distance
// satisfies the triangle inequality, so pruned subtrees never hold a point
// closer than the retained k-th by more than pruneSlack.
type vpTree struct {
	points    []vecPoint
	root      *vpNode
	watermark int64
	deleted   map[int64]struct{}
}

func buildVPTree(points []vecPoint) *vpTree {
	t := &vpTree{points: points, deleted: map[int64]struct{}{}}
	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
		if points[i].seq > t.watermark {
			t.watermark = points[i].seq
		}
	}
	t.root = t.build(idxs)
	return t
}

func (t *vpTree) build(idxs []int) *vpNode {
	if len(idxs) == 0 {
		return nil
	}
	vp := idxs[len(idxs)-1]
	rest := idxs[:len(idxs)-1]
	if len(rest) == 0 {
		return &vpNode{point: vp}
	}
	type ranked struct {
		idx  int
		dist float64
	}
	byDist := make([]ranked, len(rest))
	for i, j := range rest {
		byDist[i] = ranked{idx: j, dist: math.Acos(similarity(&t.points[vp], &t.points[j]))}
	}
	sort.Slice(byDist, func(a, b int) bool { return byDist[a].dist < byDist[b].dist })
	mid := len(byDist) / 2
	inside := make([]int, 0, mid+1)
	outside := make([]int, 0, len(byDist)-mid-1)
	for i, r := range byDist {
		if i <= mid {
			inside = append(inside, r.idx)
		} else {
			outside = append(outside, r.idx)
		}
	}
	return &vpNode{
		point:   vp,
		radius:  byDist[mid].dist,
		inside:  t.build(inside),
		outside: t.build(outside),
	}
}

func (t *vpTree) size() int {
	return len(t.points) - len(t.deleted)
}

func (t *vpTree) markDeleted(seq int64) {
	if seq <= t.watermark {
		t.deleted[seq] = struct{}{}
	}
}

type scoredSeq struct {
	seq   int64
	score float64
}

// search returns the k accepted points closest to query, best first.
func (t *vpTree) search(query *vecPoint, k int, accept func(*vecPoint) bool) []scoredSeq {
	if k <= 0 || t.root == nil {
		return nil
	}
	h := &candidateHeap{}
	tau := math.Inf(1)
	var visit func(n *vpNode)
	visit = func(n *vpNode) {
		if n == nil {
			return
		}
		p := &t.points[n.point]
		sim := similarity(query, p)
		d := math.Acos(sim)
		if _, gone := t.deleted[p.seq]; !gone && accept(p) {
			h.offer(candidate{seq: p.seq, dist: d, score: sim}, k)
			if h.Len() == k {
				tau = (*h)[0].dist + pruneSlack
			}
		}
		if d <= n.radius {
			if d-tau <= n.radius {
				visit(n.inside)
			}
			if d+tau >= n.radius {
				visit(n.outside)
			}
			return
		}
		if d+tau >= n.radius {
			visit(n.outside)
		}
		if d-tau <= n.radius {
			visit(n.inside)
		}
	}
	visit(t.root)
	return h.sorted()
}

type candidate struct {
	seq   int64
	dist  float64
	score float64
}

// worse orders by distance, then by insertion order.
func (c candidate) worse(o candidate) bool {
	if c.dist != o.dist {
		return c.dist > o.dist
	}
	return c.seq > o.seq
}

// candidateHeap is a max-heap keeping the worst retained candidate on top.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h *candidateHeap) offer(c candidate, k int) {
	if h.Len() < k {
		heap.Push(h, c)
		return
	}
	if (*h)[0].worse(c) {
		(*h)[0] = c
		heap.Fix(h, 0)
	}
}

func (h *candidateHeap) sorted() []scoredSeq {
	items := append([]candidate(nil), (*h)...)
	sort.Slice(items, func(a, b int) bool { return items[b].worse(items[a]) })
	out := make([]scoredSeq, len(items))
	for i, c := range items {
		out[i] = scoredSeq{seq: c.seq, score: c.score}
	}
	return out
}

// mergeScored combines two best-first lists and keeps the best k.
func mergeScored(a, b []scoredSeq, k int) []scoredSeq {
	all := append(append([]scoredSeq(nil), a...), b...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}
