// Package search combines vector and keyword retrieval into a single
// ranked result list using Reciprocal Rank Fusion (RRF).
package search

import (
	"sort"

	"github.com/auditkit/guideline-rag/internal/store"
)

// DefaultRRFConstant dampens the influence of very-top ranks.
// k=60 is the standard choice across RRF deployments.
const DefaultRRFConstant = 60

// DefaultOverfetch is how many times top_k each index is asked for.
// Over-fetching gives the two sides a deeper pool to agree over.
const DefaultOverfetch = 3

// FusedResult is an intermediate ranking record. It is produced per
// query and discarded after formatting.
type FusedResult struct {
	ChunkID    string
	RRFScore   float64
	InVector   bool
	InBM25     bool
	VectorRank int // 1-indexed, 0 if absent
	BM25Rank   int // 1-indexed, 0 if absent
}

// RRFFusion merges two ranked lists by summing 1/(k+rank) per list.
// An ID present in only one list still receives that list's term;
// absence from a list contributes nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion instance. k <= 0 falls back to the
// default constant.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges vector hits and keyword results into a single list
// sorted by RRF score descending. Each list is first collapsed into a
// rank map, so an ID appearing more than once within one list holds a
// single rank there (the later occurrence wins) and contributes
// exactly one term per list. Equal scores sort by chunk ID ascending
// so output order is reproducible.
func (f *RRFFusion) Fuse(vec []store.VectorHit, bm25 []store.BM25Result) []FusedResult {
	vecRanks := make(map[string]int, len(vec))
	for i, hit := range vec {
		vecRanks[hit.ID] = i + 1
	}
	bm25Ranks := make(map[string]int, len(bm25))
	for i, res := range bm25 {
		bm25Ranks[res.ChunkID] = i + 1
	}

	results := make([]FusedResult, 0, len(vecRanks)+len(bm25Ranks))
	for id, rank := range vecRanks {
		r := FusedResult{
			ChunkID:    id,
			InVector:   true,
			VectorRank: rank,
			RRFScore:   1.0 / float64(f.K+rank),
		}
		if brank, ok := bm25Ranks[id]; ok {
			r.InBM25 = true
			r.BM25Rank = brank
			r.RRFScore += 1.0 / float64(f.K+brank)
		}
		results = append(results, r)
	}
	for id, rank := range bm25Ranks {
		if _, ok := vecRanks[id]; ok {
			continue
		}
		results = append(results, FusedResult{
			ChunkID:  id,
			InBM25:   true,
			BM25Rank: rank,
			RRFScore: 1.0 / float64(f.K+rank),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
