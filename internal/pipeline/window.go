package pipeline

import (
	"context"
	"sync"
)

// Window bounds how far ahead of the oldest unfinished block new blocks may
// start. Sequential writers buffer out-of-order rows; the window caps that
// buffer at roughly size blocks.
type Window struct {
	size int

	mu   sync.Mutex
	cond *sync.Cond
	low  int // lowest unfinished block
	done map[int]struct{}
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	w := &Window{size: size, done: make(map[int]struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Acquire blocks until block idx fits inside the window or ctx ends.
func (w *Window) Acquire(ctx context.Context, idx int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	}()

	for idx >= w.low+w.size {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	return ctx.Err()
}

// Release marks idx finished and slides the window over any contiguous run
// of finished blocks.
func (w *Window) Release(idx int) {
	w.mu.Lock()
	w.done[idx] = struct{}{}
	for {
		if _, ok := w.done[w.low]; !ok {
			break
		}
		delete(w.done, w.low)
		w.low++
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Low is the lowest unfinished block index.
func (w *Window) Low() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.low
}
