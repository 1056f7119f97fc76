package semantic

import "sort"

// DefaultRRFConstant is the usual smoothing constant for RRF.
const DefaultRRFConstant = 60

type fused struct {
	ID      string
	Score   float64
	Keyword float64
	InBoth  bool
	haveKw  bool
	haveVec bool
}

// fuse merges two best-first rankings:
//
//	score(d) = wk/(k+rank_kw(d)) + wv/(k+rank_vec(d))
//
// A document missing from one list is charged rank max(len)+1 there.
// Scores are normalized so the best is 1.
func fuse(keyword, vector []ranked, k int, wKeyword, wVector float64) []fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	byID := make(map[string]*fused, len(keyword)+len(vector))
	get := func(id string) *fused {
		f, ok := byID[id]
		if !ok {
			f = &fused{ID: id}
			byID[id] = f
		}
		return f
	}
	for i, r := range keyword {
		f := get(r.ID)
		f.haveKw = true
		f.Keyword = r.Score
		f.Score += wKeyword / float64(k+i+1)
	}
	for i, r := range vector {
		f := get(r.ID)
		f.haveVec = true
		f.Score += wVector / float64(k+i+1)
	}

	missing := max(len(keyword), len(vector)) + 1
	out := make([]fused, 0, len(byID))
	for _, f := range byID {
		switch {
		case f.haveKw && f.haveVec:
			f.InBoth = true
		case f.haveKw:
			f.Score += wVector / float64(k+missing)
		default:
			f.Score += wKeyword / float64(k+missing)
		}
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.Keyword != b.Keyword {
			return a.Keyword > b.Keyword
		}
		return a.ID < b.ID
	})
	if len(out) > 0 && out[0].Score > 0 {
		top := out[0].Score
		for i := range out {
			out[i].Score /= top
		}
	}
	return out
}
