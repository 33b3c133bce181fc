package retrieval

import "sort"

const rrfK = 60 // RRF constant (standard value from literature)

// FusedResultInfo holds per-result method contribution metadata.
type FusedResultInfo struct {
	Methods     []string `json:"methods"`
	VecRank     int      `json:"vec_rank,omitempty"`     // 1-based, 0 = not present
	LexicalRank int      `json:"lexical_rank,omitempty"` // 1-based, 0 = not present
	Score       float64  `json:"score"`
}

// fuseRRF combines the vector and lexical rankings with Reciprocal Rank
// Fusion: each list contributes 1/(k + rank + 1) for a 0-based rank.
// Equal scores keep first-seen order, vector list first. At most
// maxResults ids are returned.
func fuseRRF(vecIDs, lexIDs []string, maxResults int) ([]string, map[string]FusedResultInfo) {
	type fusedEntry struct {
		id    string
		score float64
		info  FusedResultInfo
	}

	fused := make(map[string]*fusedEntry)
	var order []*fusedEntry

	add := func(ids []string, method string, setRank func(*FusedResultInfo, int)) {
		for rank, id := range ids {
			entry, ok := fused[id]
			if !ok {
				entry = &fusedEntry{id: id}
				fused[id] = entry
				order = append(order, entry)
			}
			entry.score += 1.0 / float64(rrfK+rank+1)
			entry.info.Methods = append(entry.info.Methods, method)
			setRank(&entry.info, rank+1)
		}
	}
	add(vecIDs, "vector", func(i *FusedResultInfo, r int) {
		if i.VecRank == 0 {
			i.VecRank = r
		}
	})
	add(lexIDs, "lexical", func(i *FusedResultInfo, r int) {
		if i.LexicalRank == 0 {
			i.LexicalRank = r
		}
	})

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].score > order[j].score
	})

	if maxResults > 0 && len(order) > maxResults {
		order = order[:maxResults]
	}

	ids := make([]string, len(order))
	infoMap := make(map[string]FusedResultInfo, len(order))
	for i, e := range order {
		ids[i] = e.id
		e.info.Score = e.score
		infoMap[e.id] = e.info
	}
	return ids, infoMap
}
