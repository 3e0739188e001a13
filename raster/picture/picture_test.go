package picture

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rasterstat/raster"
)

func testDriver(t *testing.T) Driver {
	t.Helper()
	d, err := New("#000000", "#ffffff")
	require.NoError(t, err)
	return d
}

func TestOpen_LuminanceAndTransparency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	img := imaging.New(3, 2, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{})
	img.SetNRGBA(2, 1, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	require.NoError(t, imaging.Save(img, path))

	r, err := testDriver(t).Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, raster.Header{Rows: 2, Cols: 3, NoData: NoData, CellSize: 1}, r.Header())
	row := make([]float64, 3)
	require.NoError(t, r.ReadRow(0, row))
	assert.Equal(t, []float64{10, NoData, 10}, row)
	require.NoError(t, r.ReadRow(1, row))
	assert.Equal(t, []float64{10, 10, 200}, row)
}

func TestCreate_RendersRamp(t *testing.T) {
	d := testDriver(t)
	path := filepath.Join(t.TempDir(), "out.png")
	h := raster.Header{Rows: 1, Cols: 3, NoData: -9999}

	w, err := d.Create(context.Background(), path, h)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow(0, []float64{0.25, -9999, 1}))
	assert.Error(t, w.WriteRow(0, []float64{0, 0, 0}))
	require.NoError(t, w.Close())

	got, err := imaging.Open(path)
	require.NoError(t, err)
	lo := color.NRGBAModel.Convert(got.At(0, 0)).(color.NRGBA)
	gap := color.NRGBAModel.Convert(got.At(1, 0)).(color.NRGBA)
	hi := color.NRGBAModel.Convert(got.At(2, 0)).(color.NRGBA)

	assert.InDelta(t, 0, int(lo.R), 1)
	assert.InDelta(t, 255, int(hi.R), 1)
	assert.Equal(t, uint8(255), lo.A)
	assert.Equal(t, uint8(0), gap.A)
}

func TestCreate_Rejects(t *testing.T) {
	d := testDriver(t)
	dir := t.TempDir()
	h := raster.Header{Rows: 2, Cols: 1}

	_, err := d.Create(context.Background(), filepath.Join(dir, "x.webp"), h)
	assert.ErrorIs(t, err, raster.ErrUnsupported)

	_, err = d.Create(context.Background(), filepath.Join(dir, "x.xyz"), h)
	assert.Error(t, err)

	w, err := d.Create(context.Background(), filepath.Join(dir, "x.png"), h)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow(1, []float64{3}))
	assert.Error(t, w.Close(), "row 0 missing")

	_, err = New("#zz0000", "#ffffff")
	assert.Error(t, err)
}

func TestRegister_BindsExtensions(t *testing.T) {
	Register(testDriver(t))
	for _, ext := range []string{"a.PNG", "b.tif", "c.jpeg"} {
		_, err := raster.Lookup(ext)
		assert.NoError(t, err, ext)
	}
}
