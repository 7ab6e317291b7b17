// Package promotion selects the best combination of promotions for a payment.
package promotion

import (
	"paygate/internal/payment/domain"
)

// Optimizer picks a subset of promotions whose total discount fits capacity.
type Optimizer interface {
	Optimize(candidates []*domain.Promotion, originalAmount, capacity int64) []*domain.Promotion
}

// KnapsackOptimizer solves the 0/1 knapsack over discount sums. Among subsets
// reaching the same sum it keeps the one with more issuer-driven promotions;
// remaining ties go to whichever path was found first.
type KnapsackOptimizer struct{}

// NewKnapsackOptimizer returns the optimizer.
func NewKnapsackOptimizer() *KnapsackOptimizer {
	return &KnapsackOptimizer{}
}

// path is an immutable back-pointer chain. Entries in the table point at
// nodes rather than sums so replacing a sum's best path never rewrites the
// history of longer paths built on it.
type path struct {
	issuerCount int
	prev        *path
	index       int
}

type entry struct {
	sum  int64
	path *path
}

// Optimize returns the selected promotions in candidate order.
func (KnapsackOptimizer) Optimize(candidates []*domain.Promotion, originalAmount, capacity int64) []*domain.Promotion {
	if capacity <= 0 || len(candidates) == 0 {
		return nil
	}

	discounts := make([]int64, len(candidates))
	for i, p := range candidates {
		discounts[i] = p.CalculateDiscount(originalAmount)
	}

	root := &path{index: -1}
	best := map[int64]*path{0: root}
	// sums in first-seen order; a prefix of it is the snapshot for a round
	order := []int64{0}

	for i, candidate := range candidates {
		discount := discounts[i]
		if discount <= 0 {
			continue
		}
		delta := 0
		if candidate.IssuerDriven() {
			delta = 1
		}

		snapshot := make([]entry, len(order))
		for j, sum := range order {
			snapshot[j] = entry{sum: sum, path: best[sum]}
		}

		for _, e := range snapshot {
			next := e.sum + discount
			if next > capacity {
				continue
			}
			proposal := &path{
				issuerCount: e.path.issuerCount + delta,
				prev:        e.path,
				index:       i,
			}
			existing, ok := best[next]
			if !ok {
				order = append(order, next)
				best[next] = proposal
				continue
			}
			if proposal.issuerCount > existing.issuerCount {
				best[next] = proposal
			}
		}
	}

	var winner int64
	for _, sum := range order {
		if sum > winner {
			winner = sum
		}
	}
	if winner == 0 {
		return nil
	}

	var picked []int
	for p := best[winner]; p != nil && p.index >= 0; p = p.prev {
		picked = append(picked, p.index)
	}

	selected := make([]*domain.Promotion, len(picked))
	for j, idx := range picked {
		selected[len(picked)-1-j] = candidates[idx]
	}
	return selected
}
