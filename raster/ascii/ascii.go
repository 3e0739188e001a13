// Package ascii reads and writes ESRI ASCII grids (.asc). The path "-"
// means stdin for reading and stdout for writing.
package ascii

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"rasterstat/raster"
	"rasterstat/raster/internal/esri"
)

// Driver serves .asc paths and "-". Nil Stdin/Stdout mean the process
// streams.
type Driver struct {
	Stdin  io.Reader
	Stdout io.Writer
}

func init() {
	raster.Register(".asc", Driver{})
	raster.Register("-", Driver{})
}

func (d Driver) Open(_ context.Context, path string) (raster.Reader, error) {
	if path == "-" {
		in := d.Stdin
		if in == nil {
			in = os.Stdin
		}
		raw, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("ascii: read stdin: %w", err)
		}
		return NewReader(bytes.NewReader(raw), int64(len(raw)), nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewReader(f, st.Size(), f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (d Driver) Create(_ context.Context, path string, h raster.Header) (raster.Writer, error) {
	if path == "-" {
		out := d.Stdout
		if out == nil {
			out = os.Stdout
		}
		return NewWriter(out, nil, h)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

/*──────── reader ───────*/

// Reader serves rows by byte range. Row offsets are indexed once on open so
// concurrent ReadRow calls only touch their own range.
type Reader struct {
	hdr    raster.Header
	src    io.ReaderAt
	closer io.Closer
	offs   []int64 // Rows+1 entries; offs[i] is the first byte of row i
}

// NewReader parses the header and indexes rows. closer may be nil.
func NewReader(src io.ReaderAt, size int64, closer io.Closer) (*Reader, error) {
	br := bufio.NewReader(io.NewSectionReader(src, 0, size))
	fields := esri.Fields{}
	var start int64
	for {
		line, err := br.ReadString('\n')
		if !esri.IsKeyLine(line) {
			if len(bytes.TrimSpace([]byte(line))) == 0 && err == nil {
				start += int64(len(line))
				continue
			}
			break
		}
		if perr := fields.Add(line); perr != nil {
			return nil, perr
		}
		start += int64(len(line))
		if err != nil {
			break
		}
	}
	h, err := fields.Header()
	if err != nil {
		return nil, err
	}
	offs, err := index(io.NewSectionReader(src, start, size-start), start, h)
	if err != nil {
		return nil, err
	}
	return &Reader{hdr: h, src: src, closer: closer, offs: offs}, nil
}

func index(data io.Reader, base int64, h raster.Header) ([]int64, error) {
	br := bufio.NewReaderSize(data, 1<<16)
	offs := make([]int64, 0, h.Rows+1)
	var (
		tokens int64
		inTok  bool
		pos    = base
	)
	for {
		c, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		space := c == ' ' || c == '\t' || c == '\n' || c == '\r'
		if !space && !inTok {
			if tokens%int64(h.Cols) == 0 {
				offs = append(offs, pos)
			}
			tokens++
		}
		inTok = !space
		pos++
	}
	if tokens != h.Cells() {
		return nil, fmt.Errorf("ascii: %d values, header declares %dx%d", tokens, h.Rows, h.Cols)
	}
	return append(offs, pos), nil
}

func (r *Reader) Header() raster.Header { return r.hdr }

func (r *Reader) ReadRow(row int, dst []float64) error {
	if err := raster.CheckRow(r.hdr, row, len(dst)); err != nil {
		return err
	}
	buf := make([]byte, r.offs[row+1]-r.offs[row])
	if n, err := r.src.ReadAt(buf, r.offs[row]); n < len(buf) {
		return fmt.Errorf("ascii: row %d: %w", row, err)
	}
	fields := bytes.Fields(buf)
	if len(fields) != len(dst) {
		return fmt.Errorf("ascii: row %d has %d values, want %d", row, len(fields), len(dst))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(string(f), 64)
		if err != nil {
			return fmt.Errorf("ascii: row %d col %d: %w", row, i, err)
		}
		dst[i] = v
	}
	return nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

/*──────── writer ───────*/

// Writer accepts rows in any order and writes them sequentially, holding
// early rows until their predecessors arrive.
type Writer struct {
	hdr    raster.Header
	bw     *bufio.Writer
	closer io.Closer

	mu      sync.Mutex
	next    int
	pending map[int][]float64
	line    []byte
	closed  bool
}

// NewWriter writes the header to w immediately. closer may be nil.
func NewWriter(w io.Writer, closer io.Closer, h raster.Header) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 1<<16)
	if err := esri.Write(bw, h); err != nil {
		return nil, err
	}
	return &Writer{hdr: h, bw: bw, closer: closer, pending: make(map[int][]float64)}, nil
}

func (w *Writer) WriteRow(row int, vals []float64) error {
	if err := raster.CheckRow(w.hdr, row, len(vals)); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, held := w.pending[row]; held || row < w.next {
		return fmt.Errorf("ascii: row %d written twice", row)
	}
	if row != w.next {
		w.pending[row] = append([]float64(nil), vals...)
		return nil
	}
	if err := w.put(vals); err != nil {
		return err
	}
	for {
		held, ok := w.pending[w.next]
		if !ok {
			return nil
		}
		delete(w.pending, w.next)
		if err := w.put(held); err != nil {
			return err
		}
	}
}

func (w *Writer) put(vals []float64) error {
	w.line = w.line[:0]
	for i, v := range vals {
		if i > 0 {
			w.line = append(w.line, ' ')
		}
		w.line = strconv.AppendFloat(w.line, v, 'g', -1, 64)
	}
	w.line = append(w.line, '\n')
	if _, err := w.bw.Write(w.line); err != nil {
		return err
	}
	w.next++
	return nil
}

// Close flushes and fails if any row is missing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.bw.Flush()
	if w.next != w.hdr.Rows && err == nil {
		err = fmt.Errorf("ascii: incomplete grid, %d of %d rows written", w.next, w.hdr.Rows)
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
