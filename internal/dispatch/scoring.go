package dispatch

import (
	"sort"
	"strconv"
	"strings"
)

// Weights tunes the candidate score. Zero-value weights produce a score of
// zero for everyone; callers should pass the configured defaults.
type Weights struct {
	Rating         float64
	Distance       float64
	PreferredBonus float64
}

const (
	// maxScoredDistance caps the distance term so far-away partners score
	// zero on it instead of going negative.
	maxScoredDistance = 50.0
	// unknownDistance is used when either area code cannot be parsed.
	unknownDistance = 25.0
)

// EstimateDistanceMiles derives a coarse distance from the numeric proximity
// of two dialing area codes. Neighboring codes tend to be geographically
// close, so the absolute difference scaled to miles is a usable tie-breaker
// even though it is not a road distance.
func EstimateDistanceMiles(from, to string) float64 {
	a, okA := areaCodeNumber(from)
	b, okB := areaCodeNumber(to)
	if !okA || !okB {
		return unknownDistance
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	miles := 2.0 + float64(diff)*0.5
	if miles > maxScoredDistance {
		return maxScoredDistance
	}
	return miles
}

func areaCodeNumber(code string) (int, bool) {
	var digits strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// Score rates one candidate slot. Higher is better: rating dominates,
// nearby partners edge out distant ones and the customer's preferred time
// slot earns a flat bonus.
func Score(rating, distanceMiles float64, preferredSlot bool, w Weights) float64 {
	d := distanceMiles
	if d > maxScoredDistance {
		d = maxScoredDistance
	}
	s := rating*w.Rating + (maxScoredDistance-d)*w.Distance
	if preferredSlot {
		s += w.PreferredBonus
	}
	return s
}

// SortCandidates orders slots for presentation: best rating first, then
// shortest distance.
func SortCandidates(slots []CandidateSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Rating != slots[j].Rating {
			return slots[i].Rating > slots[j].Rating
		}
		return slots[i].DistanceMiles < slots[j].DistanceMiles
	})
}

// Recommend returns the slot with the highest score, or nil for an empty
// slice. Ties keep the earlier element, which after SortCandidates is the
// better-rated one.
func Recommend(slots []CandidateSlot) *CandidateSlot {
	if len(slots) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(slots); i++ {
		if slots[i].Score > slots[best].Score {
			best = i
		}
	}
	pick := slots[best]
	return &pick
}
