package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestMoments_MatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vals := make([]float64, 5000)
	var m Moments
	for i := range vals {
		vals[i] = 1e6 + rng.NormFloat64()*3
		m.Add(vals[i])
	}
	mean, variance := stat.PopMeanVariance(vals, nil)
	assert.InDelta(t, mean, m.Mean, 1e-6)
	assert.InDelta(t, variance, m.Variance(), 1e-6)
	assert.Equal(t, int64(len(vals)), m.Count)
}

func TestMoments_MergeEqualsSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var all Moments
	parts := make([]Moments, 7)
	for i := 0; i < 7000; i++ {
		v := rng.Float64()*100 - 50
		all.Add(v)
		parts[i%7].Add(v)
	}
	var merged Moments
	for _, p := range parts {
		merged.Merge(p)
	}
	assert.Equal(t, all.Count, merged.Count)
	assert.InDelta(t, all.Mean, merged.Mean, 1e-9)
	assert.InDelta(t, all.Variance(), merged.Variance(), 1e-9)
	assert.Equal(t, all.Min, merged.Min)
	assert.Equal(t, all.Max, merged.Max)
}

func TestMoments_EmptyAndConstant(t *testing.T) {
	var m Moments
	assert.Zero(t, m.Variance())
	m.Merge(Moments{})
	assert.Zero(t, m.Count)

	for i := 0; i < 10; i++ {
		m.Add(5)
	}
	assert.Equal(t, 5.0, m.Mean)
	assert.Zero(t, m.StdDev())
	assert.Equal(t, Summary{Count: 10, Mean: 5, Min: 5, Max: 5}, m.Summary())
}

func TestExactRanker_FractionalRanking(t *testing.T) {
	runs := [][]float64{
		SortRun([]float64{3, 1, 2}),
		SortRun([]float64{2, 5}),
		nil,
	}
	r := NewExactRanker(runs)
	require.Equal(t, int64(5), r.Count())
	assert.Equal(t, []float64{1, 2, 2, 3, 5}, r.Sorted())

	assert.Equal(t, 0.2, r.Rank(1).Fraction())
	// ties at positions 2 and 3 share 2.5
	assert.Equal(t, 0.5, r.Rank(2).Fraction())
	assert.Equal(t, 0.8, r.Rank(3).Fraction())
	assert.Equal(t, 1.0, r.Rank(5).Fraction())
}

func TestExactRanker_TiedMaximum(t *testing.T) {
	r := NewExactRanker([][]float64{{1, 4, 4, 4}})
	// positions 2..4 average to 3
	assert.Equal(t, 0.75, r.Rank(4).Fraction())
}

func TestRank_ClassEqualWidth(t *testing.T) {
	runs := [][]float64{SortRun([]float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})}
	r := NewExactRanker(runs)
	want := []int{1, 1, 2, 2, 2, 3, 3, 4, 4, 4}
	for i, w := range want {
		v := float64(i + 1)
		assert.Equal(t, w, r.Rank(v).Class(4), "value %v", v)
	}
}

func TestRank_ClassEdges(t *testing.T) {
	tests := []struct {
		name string
		rank Rank
		k    int
		want int
	}{
		{"lowest", Rank{Twice: 2, Count: 100}, 10, 1},
		{"interior edge goes low", Rank{Twice: 60, Count: 100}, 10, 3},
		{"just past edge", Rank{Twice: 61, Count: 100}, 10, 4},
		{"one is last", Rank{Twice: 200, Count: 100}, 10, 10},
		{"single class", Rank{Twice: 7, Count: 9}, 1, 1},
		{"one is last at large k", Rank{Twice: 2e7, Count: 1e7}, 1 << 40, 1 << 40},
		{"one is last at max int", Rank{Twice: 2e7, Count: 1e7}, math.MaxInt, math.MaxInt},
		{"median edge at large k", Rank{Twice: 1e7, Count: 1e7}, 1 << 40, 1 << 39},
		{"past median at large k", Rank{Twice: 1e7 + 1, Count: 1e7}, 1 << 40, 1<<39 + 54976},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rank.Class(tt.k))
		})
	}
}

func TestHistogram_BinsAndRanks(t *testing.T) {
	h, err := NewHistogram(0, 10, 5)
	require.NoError(t, err)
	for _, v := range []float64{0, 1, 2.5, 4, 6, 8, 10, 10} {
		h.Add(v)
	}
	assert.Equal(t, []int64{2, 1, 1, 1, 3}, h.Counts)
	assert.Equal(t, int64(8), h.Total())
	assert.Equal(t, Bucket{Min: 4, Max: 6, Count: 1}, h.Bucket(2))

	r := NewHistogramRanker(h)
	assert.Equal(t, int64(8), r.Count())
	// first bucket: 2 values, positions 1..2 → 1.5
	assert.Equal(t, Rank{Twice: 3, Count: 8}, r.Rank(0.5))
	// last bucket: positions 6..8 → 7
	assert.Equal(t, Rank{Twice: 14, Count: 8}, r.Rank(10))
}

func TestHistogram_MergeAndDegenerateRange(t *testing.T) {
	a, _ := NewHistogram(3, 3, 4)
	b, _ := NewHistogram(3, 3, 4)
	a.Add(3)
	b.Add(3)
	require.NoError(t, a.Merge(b))
	assert.Equal(t, []int64{2, 0, 0, 0}, a.Counts)

	c, _ := NewHistogram(0, 1, 4)
	assert.Error(t, a.Merge(c))

	_, err := NewHistogram(0, 1, 0)
	assert.Error(t, err)
	_, err = NewHistogram(1, 0, 3)
	assert.Error(t, err)
}

func TestHistogramRanker_ApproximatesExact(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vals := make([]float64, 20000)
	var m Moments
	for i := range vals {
		vals[i] = rng.Float64()
		m.Add(vals[i])
	}
	h, err := NewHistogram(m.Min, m.Max, 1000)
	require.NoError(t, err)
	for _, v := range vals {
		h.Add(v)
	}
	approx := NewHistogramRanker(h)
	exact := NewExactRanker([][]float64{SortRun(append([]float64(nil), vals...))})
	for _, v := range vals[:500] {
		d := math.Abs(approx.Rank(v).Fraction() - exact.Rank(v).Fraction())
		assert.Less(t, d, 0.01)
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodExact, m)
	m, err = ParseMethod(" Histogram ")
	require.NoError(t, err)
	assert.Equal(t, MethodHistogram, m)
	_, err = ParseMethod("sketch")
	assert.Error(t, err)
}
