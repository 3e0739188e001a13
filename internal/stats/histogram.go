package stats

import "fmt"

// Histogram counts values in equal-width buckets spanning [Min, Max].
type Histogram struct {
	Min, Max float64
	Counts   []int64
}

// Bucket is one histogram entry spanning [Min, Max).
type Bucket struct {
	Min, Max float64
	Count    int64
}

// NewHistogram allocates bins buckets over [min, max].
func NewHistogram(min, max float64, bins int) (*Histogram, error) {
	if bins < 1 {
		return nil, fmt.Errorf("histogram: bins must be >= 1, got %d", bins)
	}
	if max < min {
		return nil, fmt.Errorf("histogram: max %g < min %g", max, min)
	}
	return &Histogram{Min: min, Max: max, Counts: make([]int64, bins)}, nil
}

// Len returns the number of buckets.
func (h *Histogram) Len() int { return len(h.Counts) }

// Bin returns the bucket index of v, clamped to the histogram range.
func (h *Histogram) Bin(v float64) int {
	n := len(h.Counts)
	if h.Max == h.Min {
		return 0
	}
	i := int((v - h.Min) / (h.Max - h.Min) * float64(n))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Add counts v.
func (h *Histogram) Add(v float64) { h.Counts[h.Bin(v)]++ }

// Merge adds o's counts. Both histograms must share range and resolution.
func (h *Histogram) Merge(o *Histogram) error {
	if o.Min != h.Min || o.Max != h.Max || len(o.Counts) != len(h.Counts) {
		return fmt.Errorf("histogram: merge of incompatible histograms")
	}
	for i, c := range o.Counts {
		h.Counts[i] += c
	}
	return nil
}

// Bucket returns the i'th bucket.
func (h *Histogram) Bucket(i int) Bucket {
	width := (h.Max - h.Min) / float64(len(h.Counts))
	return Bucket{
		Min:   h.Min + width*float64(i),
		Max:   h.Min + width*float64(i+1),
		Count: h.Counts[i],
	}
}

// Total sums all buckets.
func (h *Histogram) Total() int64 {
	var n int64
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// HistogramRanker ranks values by bucket. Every value of a bucket is one
// tie group and shares the bucket's midpoint rank.
type HistogramRanker struct {
	h      *Histogram
	before []int64
	count  int64
}

// NewHistogramRanker freezes h into cumulative counts.
func NewHistogramRanker(h *Histogram) *HistogramRanker {
	r := &HistogramRanker{h: h, before: make([]int64, len(h.Counts))}
	var acc int64
	for i, c := range h.Counts {
		r.before[i] = acc
		acc += c
	}
	r.count = acc
	return r
}

func (r *HistogramRanker) Count() int64 { return r.count }

func (r *HistogramRanker) Rank(v float64) Rank {
	b := r.h.Bin(v)
	return Rank{Twice: 2*r.before[b] + r.h.Counts[b] + 1, Count: r.count}
}
