package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rasterstat/raster"
	"rasterstat/raster/memory"
)

type failingReader struct {
	raster.Reader
	failRow int
}

func (f *failingReader) ReadRow(row int, dst []float64) error {
	if row == f.failRow {
		return errors.New("disk on fire")
	}
	return f.Reader.ReadRow(row, dst)
}

type captureWriter struct {
	mu    sync.Mutex
	rows  map[int][]float64
	order []int
}

func newCaptureWriter() *captureWriter { return &captureWriter{rows: map[int][]float64{}} }

func (c *captureWriter) WriteRow(row int, vals []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.rows[row]; dup {
		return errors.New("duplicate row")
	}
	c.rows[row] = append([]float64(nil), vals...)
	c.order = append(c.order, row)
	return nil
}
func (c *captureWriter) Close() error { return nil }

type countObserver struct{ rows [3]atomic.Int64 }

func (o *countObserver) RowsDone(p Pass, n int) { o.rows[p].Add(int64(n)) }

func makeGrid(rows, cols int, nodata float64) *memory.Grid {
	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, cols)
		for j := range data[i] {
			data[i][j] = float64(i*cols + j)
			if (i+j)%5 == 0 {
				data[i][j] = nodata
			}
		}
	}
	return memory.MustFromRows(nodata, data)
}

func TestBlocks_PartitionsAllRows(t *testing.T) {
	bs := Blocks(10, 4)
	if len(bs) != 3 {
		t.Fatalf("want 3 blocks, got %d", len(bs))
	}
	if bs[2].Start != 8 || bs[2].End != 10 || bs[2].Index != 2 {
		t.Fatalf("unexpected tail block %+v", bs[2])
	}
	if got := Blocks(0, 4); len(got) != 0 {
		t.Fatalf("want no blocks for empty raster, got %v", got)
	}
}

func TestRunner_ScanVisitsEveryRowOnce(t *testing.T) {
	g := makeGrid(37, 5, -9999)
	obs := &countObserver{}
	r := NewRunner(g, Options{Workers: 4, BlockRows: 3, Observer: obs})

	seen := make([]int32, 37)
	partial := make([]float64, len(r.Blocks()))
	err := r.Scan(context.Background(), func(b Block, row int, vals []float64) error {
		atomic.AddInt32(&seen[row], 1)
		for _, v := range vals {
			if !r.Header().IsNoData(v) {
				partial[b.Index] += v
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for row, n := range seen {
		if n != 1 {
			t.Fatalf("row %d visited %d times", row, n)
		}
	}
	var sum, want float64
	for _, p := range partial {
		sum += p
	}
	for _, v := range g.Values() {
		if v != -9999 {
			want += v
		}
	}
	if sum != want {
		t.Fatalf("want sum %v, got %v", want, sum)
	}
	if got := obs.rows[PassStatistics].Load(); got != 37 {
		t.Fatalf("observer saw %d rows, want 37", got)
	}
}

func TestRunner_EmitMapsValidAndPassesNoData(t *testing.T) {
	g := makeGrid(20, 4, -1)
	r := NewRunner(g, Options{Workers: 3, BlockRows: 2, WindowBlocks: 2})
	w := newCaptureWriter()

	st, err := r.Emit(context.Background(), w, func(v float64) float64 { return v * 2 })
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.rows) != 20 {
		t.Fatalf("want 20 rows written, got %d", len(w.rows))
	}
	in := g.Rows()
	for i, row := range in {
		for j, v := range row {
			want := v * 2
			if v == -1 {
				want = -1
			}
			if w.rows[i][j] != want {
				t.Fatalf("cell (%d,%d): want %v, got %v", i, j, want, w.rows[i][j])
			}
		}
	}
	if st.Collisions != 0 {
		t.Fatalf("unexpected collisions: %d", st.Collisions)
	}
}

func TestRunner_EmitCountsNoDataCollisions(t *testing.T) {
	g := memory.MustFromRows(0, [][]float64{{1, 0, 3}})
	r := NewRunner(g, Options{Workers: 1})
	st, err := r.Emit(context.Background(), newCaptureWriter(), func(float64) float64 { return 0 })
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if st.Collisions != 2 {
		t.Fatalf("want 2 collisions, got %d", st.Collisions)
	}
}

func TestRunner_ReadFailureReportsPassAndRow(t *testing.T) {
	g := makeGrid(10, 3, -9999)
	r := NewRunner(&failingReader{Reader: g, failRow: 6}, Options{Workers: 2, BlockRows: 2})

	err := r.Scan(context.Background(), func(Block, int, []float64) error { return nil })
	if !errors.Is(err, ErrIO) {
		t.Fatalf("want ErrIO, got %v", err)
	}
	var re *RowError
	if !errors.As(err, &re) {
		t.Fatalf("want *RowError, got %T", err)
	}
	if re.Pass != PassStatistics || re.Row != 6 || re.Op != "read" {
		t.Fatalf("unexpected row error %+v", re)
	}
	if !strings.Contains(err.Error(), "pass 1 (statistics): read row 6") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	g := makeGrid(50, 2, math.NaN())
	r := NewRunner(g, Options{Workers: 2, BlockRows: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Emit(ctx, newCaptureWriter(), func(v float64) float64 { return v })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRunner_FillWritesNoData(t *testing.T) {
	g := makeGrid(5, 3, -7)
	w := newCaptureWriter()
	if err := NewRunner(g, Options{BlockRows: 2}).Fill(context.Background(), w); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for i := 0; i < 5; i++ {
		for _, v := range w.rows[i] {
			if v != -7 {
				t.Fatalf("row %d: want nodata, got %v", i, v)
			}
		}
	}
	for i, row := range w.order {
		if row != i {
			t.Fatalf("Fill should write in order, got %v", w.order)
		}
	}
}

func TestWindow_BlocksUntilLowReleased(t *testing.T) {
	w := NewWindow(2)
	ctx := context.Background()
	if err := w.Acquire(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Acquire(ctx, 1); err != nil {
		t.Fatal(err)
	}

	got := make(chan error, 1)
	go func() { got <- w.Acquire(ctx, 2) }()
	select {
	case <-got:
		t.Fatal("Acquire(2) should block while block 0 is unfinished")
	case <-time.After(20 * time.Millisecond):
	}

	w.Release(1)
	if w.Low() != 0 {
		t.Fatalf("low should stay at 0, got %d", w.Low())
	}
	w.Release(0)
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire(2) did not unblock")
	}
	if w.Low() != 2 {
		t.Fatalf("want low 2, got %d", w.Low())
	}
}

func TestWindow_AcquireHonoursContext(t *testing.T) {
	w := NewWindow(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Acquire(ctx, 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	var tr Tracker
	for _, s := range []State{StatisticsAccumulating, StatisticsFinalized, Emitting, Done} {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	if tr.State() != Done {
		t.Fatalf("want done, got %s", tr.State())
	}
	if err := tr.Advance(Failed); err == nil {
		t.Fatal("Advance into Failed should be rejected")
	}
	tr.Fail(errors.New("late"))
	if tr.State() != Done || tr.Err() != nil {
		t.Fatal("Fail must not leave a terminal state")
	}
}

func TestTracker_RejectsSkipsAndRecordsFailure(t *testing.T) {
	var tr Tracker
	if err := tr.Advance(Emitting); err == nil {
		t.Fatal("skipping straight to emitting should fail")
	}
	_ = tr.Advance(StatisticsAccumulating)
	cause := errors.New("boom")
	if err := tr.Fail(cause); err != cause {
		t.Fatalf("Fail should return its argument, got %v", err)
	}
	if tr.State() != Failed || tr.Err() != cause {
		t.Fatalf("want failed with cause, got %s / %v", tr.State(), tr.Err())
	}
	if err := tr.Advance(StatisticsFinalized); err == nil {
		t.Fatal("no transition out of failed")
	}
}
