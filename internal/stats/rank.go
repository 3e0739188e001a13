package stats

import (
	"fmt"
	"math/bits"
	"strings"
)

// Rank is a fractional rank held as twice its value so tie midpoints stay
// integral: Twice = 2·less + equal + 1, i.e. the 1-based average position
// of a tie group, doubled.
type Rank struct {
	Twice int64
	Count int64
}

// Fraction is rank / count, in (0, 1]. The largest distinct value maps to
// exactly 1.
func (r Rank) Fraction() float64 {
	return float64(r.Twice) / float64(2*r.Count)
}

// Class bins the fraction into one of k equal-width intervals over (0, 1]
// and returns the 1-based index. A fraction on an interior edge j/k falls
// in class j; 1.0 falls in class k. Computed as a 128-bit integer ceiling
// so edges stay exact for any k.
func (r Rank) Class(k int) int {
	if k < 1 || r.Twice < 1 || r.Count < 1 {
		return 1
	}
	den := uint64(2 * r.Count)
	hi, lo := bits.Mul64(uint64(r.Twice), uint64(k))
	lo, carry := bits.Add64(lo, den-1, 0)
	hi += carry
	if hi >= den {
		return k
	}
	q, _ := bits.Div64(hi, lo, den)
	if q < 1 {
		return 1
	}
	if q > uint64(k) {
		return k
	}
	return int(q)
}

// Ranker maps a value to its rank in a finalized distribution. Rankers are
// read-only once built and safe for concurrent use.
type Ranker interface {
	Count() int64
	Rank(v float64) Rank
}

// Method selects how quantile ranks are computed.
type Method string

const (
	// MethodExact sorts every valid value: exact ranks, 8 bytes per cell.
	MethodExact Method = "exact"
	// MethodHistogram counts values into fixed equal-width buckets:
	// O(bins) memory, ranks resolved to bucket granularity.
	MethodHistogram Method = "histogram"
	// MethodAuto uses exact up to a configured cell limit, histogram above it.
	MethodAuto Method = "auto"
)

// ParseMethod accepts exact|histogram|auto (case-insensitive); empty means exact.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodExact, nil
	case MethodExact, MethodHistogram, MethodAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown quantile method %q (want exact|histogram|auto)", s)
	}
}
