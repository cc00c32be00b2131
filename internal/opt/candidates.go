package opt

import (
	"sort"

	"fieldops/internal/geo"
	"fieldops/internal/model"
)

// DefaultCandidateK bounds RankCandidates when the caller passes k <= 0.
const DefaultCandidateK = 5

// RankCandidates scores a pool of buildings against a reference point and
// returns the top k nearest as fill-in suggestions, score = 1/(1+distM),
// sorted by non-increasing score. Buildings without a coordinate are
// skipped. Used to fill capacity opened by a suspension or early completion.
func RankCandidates(ref model.GeoPoint, pool []model.Building, k int) []model.Candidate {
	if k <= 0 {
		k = DefaultCandidateK
	}
	out := make([]model.Candidate, 0, len(pool))
	for _, b := range pool {
		if b.Location == nil {
			continue
		}
		d := geo.DistanceMeters(ref, *b.Location)
		out = append(out, model.Candidate{BuildingID: b.ID, DistM: d, Score: 1 / (1 + d)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
