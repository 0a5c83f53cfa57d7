package scheduler

import "marketbot/internal/domain"

// Outcome is what a sweep did with one listing.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// Result is the per-listing record of one sweep.
type Result struct {
	Ref     domain.ListingReference `json:"ref"`
	Outcome Outcome                 `json:"outcome"`
	Reason  string                  `json:"reason,omitempty"`
}

func Transitioned(ref domain.ListingReference) Result {
	return Result{Ref: ref, Outcome: OutcomeTransitioned}
}

func Skipped(ref domain.ListingReference, reason string) Result {
	return Result{Ref: ref, Outcome: OutcomeSkipped, Reason: reason}
}

func Failed(ref domain.ListingReference, reason string) Result {
	return Result{Ref: ref, Outcome: OutcomeFailed, Reason: reason}
}

// Tally counts results by outcome.
func Tally(results []Result) map[Outcome]int {
	out := make(map[Outcome]int, 3)
	for _, r := range results {
		out[r.Outcome]++
	}
	return out
}
