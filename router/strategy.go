// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"math"
	"sort"
)

// epsilon returns the exploration probability for the given decision count.
// It starts at Epsilon0 and decays geometrically every EpsilonDecayEvery
// decisions, never dropping below EpsilonMin.
func (r *CapabilityRouter) epsilon(decisions int64) float64 {
	steps := decisions / r.cfg.EpsilonDecayEvery
	eps := r.cfg.Epsilon0 * math.Pow(r.cfg.EpsilonDecayRate, float64(steps))
	if eps < r.cfg.EpsilonMin {
		return r.cfg.EpsilonMin
	}
	return eps
}

// selectExplore picks uniformly among the candidates with the fewest
// recorded selections. Candidates are ordered by ascending id first so the
// draw is reproducible under a seeded source.
func (r *CapabilityRouter) selectExplore(scores []CandidateScore) *CandidateScore {
	sort.Slice(scores, func(i, j int) bool { return scores[i].AgentID < scores[j].AgentID })

	minSelections := int64(math.MaxInt64)
	for i := range scores {
		if n := r.selectionCount(scores[i].AgentID); n < minSelections {
			minSelections = n
		}
	}

	fewest := make([]*CandidateScore, 0, len(scores))
	for i := range scores {
		if r.selectionCount(scores[i].AgentID) == minSelections {
			fewest = append(fewest, &scores[i])
		}
	}

	if len(fewest) == 1 {
		return fewest[0]
	}
	return fewest[r.intn(len(fewest))]
}

// selectExploit adds the confidence bonus to each weighted score and picks
// the argmax, breaking ties by ascending agent id.
func (r *CapabilityRouter) selectExploit(scores []CandidateScore, totalSelections int64) *CandidateScore {
	for i := range scores {
		n := r.selectionCount(scores[i].AgentID)
		bonus := r.cfg.UCBConstant * math.Sqrt(math.Log(float64(totalSelections+1))/float64(n+1))
		scores[i].ConfidenceBonus = bonus
		scores[i].FinalScore = scores[i].WeightedScore + bonus
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].AgentID < scores[j].AgentID })

	best := &scores[0]
	for i := 1; i < len(scores); i++ {
		if scores[i].FinalScore > best.FinalScore {
			best = &scores[i]
		}
	}
	return best
}

// topCandidates returns up to k candidates ordered by descending final score,
// ties by ascending id.
func topCandidates(scores []CandidateScore, k int) []CandidateScore {
	sorted := append([]CandidateScore(nil), scores...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FinalScore != sorted[j].FinalScore {
			return sorted[i].FinalScore > sorted[j].FinalScore
		}
		return sorted[i].AgentID < sorted[j].AgentID
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// decisionConfidence is the normalized gap between the best and second-best
// final scores. A single candidate yields full confidence.
func decisionConfidence(top []CandidateScore) float64 {
	if len(top) < 2 {
		return 1.0
	}
	first, second := top[0].FinalScore, top[1].FinalScore
	if first <= 0 {
		return 0.0
	}
	gap := (first - second) / first
	if gap < 0 {
		return 0.0
	}
	return gap
}
