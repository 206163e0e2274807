// Package selector implements the Judge Selector (C5): given a pool of
// available judges and a ReviewContext, it yields an ordered selection
// bounded by [min_judges_required, max_judges_per_session].
package selector

import (
	"sort"

	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/model"
)

// Strategy is the closed set of selection strategies.
type Strategy int

const (
	StrategyAllAvailable Strategy = iota
	StrategySpecializationBased
	StrategyRoundRobin
	StrategyRandom
	StrategyPerformanceWeighted
)

// Selector holds the round-robin cursor state that must persist across
// calls; the other strategies are pure functions of their inputs.
type Selector struct {
	roundRobinCursor int
}

// New constructs a Selector.
func New() *Selector {
	return &Selector{}
}

// Select applies strategy to judges and returns an ordered selection of
// length N where min <= N <= max, or a *model.QuorumFailureError if fewer
// than min judges are available — checked before any judge is invoked.
func (s *Selector) Select(strategy Strategy, judges []judge.Judge, rc model.ReviewContext, min, max int) ([]judge.Judge, error) {
	available := make([]judge.Judge, 0, len(judges))
	for _, j := range judges {
		if j.IsAvailable() {
			available = append(available, j)
		}
	}

	if len(available) < min {
		return nil, &model.QuorumFailureError{Available: len(available), Required: min}
	}

	var ordered []judge.Judge
	switch strategy {
	case StrategySpecializationBased:
		ordered = s.bySpecialization(available, rc)
	case StrategyPerformanceWeighted:
		ordered = s.byPerformance(available)
	case StrategyRoundRobin:
		ordered = s.byRoundRobin(available)
	case StrategyRandom:
		ordered = s.byRandom(available)
	default: // StrategyAllAvailable
		ordered = available
	}

	if len(ordered) > max {
		ordered = ordered[:max]
	}
	return ordered, nil
}

// bySpecialization sorts descending by SpecializationScore(ctx), tie-break
// on judge ID lexicographic ascending.
func (s *Selector) bySpecialization(judges []judge.Judge, rc model.ReviewContext) []judge.Judge {
	out := append([]judge.Judge(nil), judges...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].SpecializationScore(rc), out[j].SpecializationScore(rc)
		if si != sj {
			return si > sj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// byPerformance sorts ascending by ErrorRate then descending by
// TotalReviews, favoring judges that are both reliable and experienced.
func (s *Selector) byPerformance(judges []judge.Judge) []judge.Judge {
	out := append([]judge.Judge(nil), judges...)
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].HealthMetrics(), out[j].HealthMetrics()
		if hi.ErrorRate != hj.ErrorRate {
			return hi.ErrorRate < hj.ErrorRate
		}
		return hi.TotalReviews > hj.TotalReviews
	})
	return out
}

// byRoundRobin rotates the judge pool by the selector's cursor, advancing
// it for the next call.
func (s *Selector) byRoundRobin(judges []judge.Judge) []judge.Judge {
	n := len(judges)
	if n == 0 {
		return judges
	}
	start := s.roundRobinCursor % n
	s.roundRobinCursor = (s.roundRobinCursor + 1) % n

	out := make([]judge.Judge, 0, n)
	out = append(out, judges[start:]...)
	out = append(out, judges[:start]...)
	return out
}

// byRandom is stubbed as a lexicographic order: true randomness would make
// session outcomes non-reproducible, and every other strategy here is
// deterministic. No strategy in this package randomizes the selection.
func (s *Selector) byRandom(judges []judge.Judge) []judge.Judge {
	out := append([]judge.Judge(nil), judges...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
