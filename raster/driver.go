package raster

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Driver opens and creates rasters for one storage format.
type Driver interface {
	Open(ctx context.Context, path string) (Reader, error)
	Create(ctx context.Context, path string, h Header) (Writer, error)
}

// Filer is implemented by drivers whose rasters span more than one file.
type Filer interface {
	Files(path string) []string
}

/*──────── registry ───────*/

var (
	mu  sync.RWMutex
	reg = map[string]Driver{}
)

// Register binds a driver to a URL scheme ("mem", "kafka") or a file
// extension (".asc"). Later registrations replace earlier ones.
func Register(key string, d Driver) {
	mu.Lock()
	reg[strings.ToLower(key)] = d
	mu.Unlock()
}

// Drivers lists registered keys, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves the driver for path: URL scheme first, then extension.
func Lookup(path string) (Driver, error) {
	mu.RLock()
	defer mu.RUnlock()
	if i := strings.Index(path, "://"); i > 0 {
		if u, err := url.Parse(path); err == nil && u.Scheme != "" {
			if d, ok := reg[strings.ToLower(u.Scheme)]; ok {
				return d, nil
			}
			return nil, fmt.Errorf("raster: no driver for scheme %q", u.Scheme)
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if path == "-" {
		ext = "-"
	}
	if d, ok := reg[ext]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("raster: no driver for %q", path)
}

// Open opens path with its registered driver.
func Open(ctx context.Context, path string) (Reader, error) {
	d, err := Lookup(path)
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, path)
}

// Create creates path with its registered driver.
func Create(ctx context.Context, path string, h Header) (Writer, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	d, err := Lookup(path)
	if err != nil {
		return nil, err
	}
	return d.Create(ctx, path, h)
}

// Creator binds path to a CreateFunc.
func Creator(ctx context.Context, path string) CreateFunc {
	return func(h Header) (Writer, error) { return Create(ctx, path, h) }
}

// Overlaps reports whether creating out would clobber any file backing in.
// Stdio and URL targets compare by name only.
func Overlaps(in, out string) bool {
	if in == "-" || out == "-" {
		return false
	}
	if in == out {
		return true
	}
	for _, a := range files(in) {
		for _, b := range files(out) {
			if samePath(a, b) {
				return true
			}
		}
	}
	return false
}

func files(path string) []string {
	if strings.Contains(path, "://") {
		return nil
	}
	if d, err := Lookup(path); err == nil {
		if f, ok := d.(Filer); ok {
			return f.Files(path)
		}
	}
	return []string{path}
}

func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA == nil && errB == nil && aa == bb {
		return true
	}
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
