package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks raster open/read/write/close failures.
	ErrIO = errors.New("raster i/o error")
	// ErrInvalidParameter is returned before pass 1 for bad parameters.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrEmptyDistribution is returned when the input has no valid cells.
	// The output raster is still written, entirely no-data.
	ErrEmptyDistribution = errors.New("empty distribution: no valid cells")
)

// Pass identifies which half of the two-pass run failed.
type Pass int

const (
	PassStatistics Pass = 1
	PassEmit       Pass = 2
)

func (p Pass) String() string {
	switch p {
	case PassStatistics:
		return "pass 1 (statistics)"
	case PassEmit:
		return "pass 2 (emit)"
	default:
		return fmt.Sprintf("pass %d", int(p))
	}
}

// RowError reports a raster I/O failure with the pass and row it happened
// on. Row is -1 for whole-raster operations (create, close).
type RowError struct {
	Pass Pass
	Row  int
	Op   string
	Err  error
}

func (e *RowError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s: %s: %v", e.Pass, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s row %d: %v", e.Pass, e.Op, e.Row, e.Err)
}

// Unwrap exposes both ErrIO and the cause to errors.Is / errors.As.
func (e *RowError) Unwrap() []error { return []error{ErrIO, e.Err} }

// InvalidParameter wraps ErrInvalidParameter with a message.
func InvalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
