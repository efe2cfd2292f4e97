package vectorstore

import "sort"

// FuseRRF combines two rank-ordered result lists (dense and sparse
// prefetch stages) with Reciprocal Rank Fusion: score = sum of
// 1/(k + rank) across the stages a point appears in, rank counted from 1.
// Points are returned sorted by fused score descending, ties broken by
// ID for determinism, truncated to limit.
func FuseRRF(k int, limit int, stages ...[]ScoredPoint) []ScoredPoint {
	type acc struct {
		point ScoredPoint
		score float64
	}

	fused := make(map[string]*acc)
	order := make([]string, 0)

	for _, stage := range stages {
		for rank, p := range stage {
			a, ok := fused[p.ID]
			if !ok {
				a = &acc{point: p}
				fused[p.ID] = a
				order = append(order, p.ID)
			}
			a.score += 1.0 / float64(k+rank+1)
		}
	}

	results := make([]ScoredPoint, 0, len(order))
	for _, id := range order {
		a := fused[id]
		a.point.Score = float32(a.score)
		results = append(results, a.point)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// MergeByID merges result lists from independently queried collections
// into insertion order of first observation per ID, keeping the higher
// score on collision, then truncates to limit.
func MergeByID(limit int, lists ...[]ScoredPoint) []ScoredPoint {
	merged := make(map[string]ScoredPoint)
	order := make([]string, 0)

	for _, list := range lists {
		for _, p := range list {
			existing, ok := merged[p.ID]
			if !ok {
				merged[p.ID] = p
				order = append(order, p.ID)
				continue
			}
			if p.Score > existing.Score {
				merged[p.ID] = p
			}
		}
	}

	out := make([]ScoredPoint, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
