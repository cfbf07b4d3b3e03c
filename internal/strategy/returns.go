package strategy

import (
	"math"
	"sort"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// maxReturnSearchNodes bounds the combination search in BorrowsToReturn.
const maxReturnSearchNodes = 1 << 20

// BorrowsToReturn picks the borrows to give back once filled new funding has
// arrived. The chosen set totals at least filled with the smallest
// overshoot; a set within tolerance of filled is taken as soon as it is
// found. Among equal candidates fewer items win, then larger items. When all
// candidates together fall short of filled they are all returned.
func BorrowsToReturn(candidates []domain.Borrow, filled, tolerance float64) []domain.Borrow {
	if filled <= 0 || len(candidates) == 0 {
		return nil
	}

	items := make([]domain.Borrow, len(candidates))
	copy(items, candidates)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Amount != items[j].Amount {
			return items[i].Amount > items[j].Amount
		}
		if items[i].Rate != items[j].Rate {
			return items[i].Rate > items[j].Rate
		}
		return items[i].ID < items[j].ID
	})

	if domain.SumAmount(items) < filled {
		return items
	}

	s := returnSearch{
		items:     items,
		filled:    filled,
		tolerance: tolerance,
		bestOver:  math.Inf(1),
		prefix:    make([]float64, len(items)+1),
	}
	for i, b := range items {
		s.prefix[i+1] = s.prefix[i] + b.Amount
	}

	for k := 1; k <= len(items) && !s.done; k++ {
		s.pick = s.pick[:0]
		s.walk(0, k, 0)
	}

	if s.best == nil {
		return greedyCover(items, filled)
	}
	out := make([]domain.Borrow, 0, len(s.best))
	for _, idx := range s.best {
		out = append(out, items[idx])
	}
	return out
}

type returnSearch struct {
	items     []domain.Borrow
	filled    float64
	tolerance float64
	prefix    []float64

	pick     []int
	best     []int
	bestOver float64
	nodes    int
	done     bool
}

// walk enumerates size-k index combinations in lexicographic order, which
// over amount-descending items visits larger items first.
func (s *returnSearch) walk(start, k int, sum float64) {
	if s.done {
		return
	}
	s.nodes++
	if s.nodes > maxReturnSearchNodes {
		s.done = true
		return
	}

	if len(s.pick) == k {
		if sum < s.filled {
			return
		}
		over := sum - s.filled
		if over < s.bestOver {
			s.bestOver = over
			s.best = append(s.best[:0], s.pick...)
		}
		if over <= s.tolerance {
			s.done = true
		}
		return
	}

	// A partial set that already covers filled was scored at a smaller k.
	if len(s.pick) > 0 && sum >= s.filled {
		return
	}

	need := k - len(s.pick)
	for i := start; i+need <= len(s.items); i++ {
		// The largest reachable sum from here uses the next need items.
		if sum+s.prefix[i+need]-s.prefix[i] < s.filled {
			return
		}
		s.pick = append(s.pick, i)
		s.walk(i+1, k, sum+s.items[i].Amount)
		s.pick = s.pick[:len(s.pick)-1]
		if s.done {
			return
		}
	}
}

func greedyCover(items []domain.Borrow, filled float64) []domain.Borrow {
	var (
		out []domain.Borrow
		sum float64
	)
	for _, b := range items {
		if sum >= filled {
			break
		}
		out = append(out, b)
		sum += b.Amount
	}
	return out
}
