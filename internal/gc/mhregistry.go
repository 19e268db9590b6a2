package gc

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// MHRegistry implements C6: selecting a primary (and optional backup) MH by
// weighted random draw over healthy/degraded candidates in a region.
type MHRegistry struct {
	store MHStore
}

// NewMHRegistry constructs an MHRegistry.
func NewMHRegistry(store MHStore) *MHRegistry {
	return &MHRegistry{store: store}
}

// SelectionResult is the outcome of Select.
type SelectionResult struct {
	Success bool
	Primary *MediaHandler
	Backup  *MediaHandler
	Reason  string // "none_available" when Success is false
}

// Select chooses a primary and, if a second distinct candidate exists, a
// backup MH in region, weighted by (capacity - load_score). Selection uses
// a CSPRNG per spec §4.6.
func (m *MHRegistry) Select(ctx context.Context, region string) (SelectionResult, error) {
	candidates, err := m.store.Candidates(ctx, region)
	if err != nil {
		return SelectionResult{}, fmt.Errorf("querying mh candidates: %w", err)
	}
	if len(candidates) == 0 {
		return SelectionResult{Success: false, Reason: "none_available"}, nil
	}

	primaryIdx, err := weightedPick(candidates, -1)
	if err != nil {
		return SelectionResult{}, err
	}
	result := SelectionResult{Success: true, Primary: &candidates[primaryIdx]}

	if len(candidates) > 1 {
		backupIdx, err := weightedPick(candidates, primaryIdx)
		if err != nil {
			return SelectionResult{}, err
		}
		result.Backup = &candidates[backupIdx]
	}
	return result, nil
}

// weight returns the selection weight for an MH: spare capacity, per spec
// §4.6. Non-positive weights are floored at a minimal positive value so an
// MH at or past reported capacity can still be chosen as a last resort
// rather than breaking the weighted draw.
func weight(mh MediaHandler) float64 {
	w := float64(mh.Capacity) - mh.LoadScore
	if w <= 0 {
		return 0.01
	}
	return w
}

// weightedPick draws a CSPRNG-weighted index from candidates, excluding
// exclude (pass -1 to exclude nothing).
func weightedPick(candidates []MediaHandler, exclude int) (int, error) {
	total := 0.0
	for i, c := range candidates {
		if i == exclude {
			continue
		}
		total += weight(c)
	}
	if total <= 0 {
		// Every eligible candidate has zero weight; fall back to uniform
		// selection over the eligible set.
		for i := range candidates {
			if i != exclude {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no eligible candidate to select")
	}

	// Scale to a fixed-point integer range so crypto/rand can drive the draw.
	const scale = 1_000_000
	n, err := rand.Int(rand.Reader, big.NewInt(int64(total*scale)))
	if err != nil {
		return 0, fmt.Errorf("drawing random selection: %w", err)
	}
	target := float64(n.Int64()) / scale

	cumulative := 0.0
	for i, c := range candidates {
		if i == exclude {
			continue
		}
		cumulative += weight(c)
		if target < cumulative {
			return i, nil
		}
	}
	// Floating point rounding can leave target == total; fall back to the
	// last eligible candidate.
	for i := len(candidates) - 1; i >= 0; i-- {
		if i != exclude {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no eligible candidate to select")
}
