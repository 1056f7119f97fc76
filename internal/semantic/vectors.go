package semantic

import (
	"github.com/coder/hnsw"
)

// vectorIndex is an HNSW graph over chunk embeddings. Keys are positions
// in the snapshot's chunk slice.
type vectorIndex struct {
	graph *hnsw.Graph[int]
	ids   []string
}

func newVectorIndex(ids []string, vectors [][]float32) *vectorIndex {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32
	g.Ml = 0.25

	nodes := make([]hnsw.Node[int], 0, len(vectors))
	for i, v := range vectors {
		if isZero(v) {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(i, v))
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}
	return &vectorIndex{graph: g, ids: ids}
}

func (v *vectorIndex) search(query []float32, k int) []ranked {
	if v.graph.Len() == 0 || isZero(query) {
		return nil
	}
	nodes := v.graph.Search(query, k)
	out := make([]ranked, 0, len(nodes))
	for _, n := range nodes {
		d := v.graph.Distance(query, n.Value)
		out = append(out, ranked{ID: v.ids[n.Key], Score: float64(1 - d)})
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
