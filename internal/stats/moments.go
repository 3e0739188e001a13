// Package stats holds the distribution statistics shared by the raster
// transforms: streaming moments and value rankers.
//
// Variance and standard deviation use the population convention (÷n).
package stats

import "math"

// Moments accumulates count, mean, sum of squared deviations (M2) and
// range with Welford's update. The zero value is an empty accumulator.
type Moments struct {
	Count int64
	Mean  float64
	M2    float64
	Min   float64
	Max   float64
}

// Add folds one value in.
func (m *Moments) Add(v float64) {
	if m.Count == 0 {
		m.Min, m.Max = v, v
	} else {
		if v < m.Min {
			m.Min = v
		}
		if v > m.Max {
			m.Max = v
		}
	}
	m.Count++
	d := v - m.Mean
	m.Mean += d / float64(m.Count)
	m.M2 += d * (v - m.Mean)
}

// Merge combines o into m (Chan et al. pairwise update). Merging the same
// partials in the same order always yields the same bits.
func (m *Moments) Merge(o Moments) {
	if o.Count == 0 {
		return
	}
	if m.Count == 0 {
		*m = o
		return
	}
	na, nb := float64(m.Count), float64(o.Count)
	n := na + nb
	d := o.Mean - m.Mean
	m.Mean += d * nb / n
	m.M2 += o.M2 + d*d*na*nb/n
	m.Count += o.Count
	if o.Min < m.Min {
		m.Min = o.Min
	}
	if o.Max > m.Max {
		m.Max = o.Max
	}
}

// Variance is the population variance, 0 when empty.
func (m Moments) Variance() float64 {
	if m.Count == 0 {
		return 0
	}
	v := m.M2 / float64(m.Count)
	if v < 0 {
		// rounding on constant input
		return 0
	}
	return v
}

// StdDev is the population standard deviation.
func (m Moments) StdDev() float64 { return math.Sqrt(m.Variance()) }

// Summary is the loggable view of a distribution.
type Summary struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary snapshots m.
func (m Moments) Summary() Summary {
	return Summary{Count: m.Count, Mean: m.Mean, StdDev: m.StdDev(), Min: m.Min, Max: m.Max}
}
