package stats

import (
	"slices"
	"sort"
)

// ExactRanker ranks against a fully sorted copy of the valid values.
type ExactRanker struct {
	sorted []float64
}

// SortRun sorts one partial run in place and returns it.
func SortRun(run []float64) []float64 {
	slices.Sort(run)
	return run
}

// NewExactRanker merges already-sorted runs, in the order given, into one
// sorted slice. Runs are consumed.
func NewExactRanker(runs [][]float64) *ExactRanker {
	live := make([][]float64, 0, len(runs))
	for _, r := range runs {
		if len(r) > 0 {
			live = append(live, r)
		}
	}
	for len(live) > 1 {
		next := make([][]float64, 0, (len(live)+1)/2)
		for i := 0; i < len(live); i += 2 {
			if i+1 == len(live) {
				next = append(next, live[i])
				continue
			}
			next = append(next, mergeSorted(live[i], live[i+1]))
		}
		live = next
	}
	r := &ExactRanker{}
	if len(live) == 1 {
		r.sorted = live[0]
	}
	return r
}

func mergeSorted(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j] < a[i] {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func (r *ExactRanker) Count() int64 { return int64(len(r.sorted)) }

// Rank counts values strictly below v and equal to v by binary search.
func (r *ExactRanker) Rank(v float64) Rank {
	less := sort.SearchFloat64s(r.sorted, v)
	rest := r.sorted[less:]
	equal := sort.Search(len(rest), func(i int) bool { return rest[i] > v })
	return Rank{Twice: 2*int64(less) + int64(equal) + 1, Count: int64(len(r.sorted))}
}

// Sorted exposes the merged values; callers must not mutate them.
func (r *ExactRanker) Sorted() []float64 { return r.sorted }
