package kafka

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Row frame field numbers. The layout matches
//
//	message Row {
//	  uint64 row    = 1;
//	  uint64 cols   = 2;
//	  double nodata = 3;
//	  repeated double values = 4 [packed = true];
//	}
const (
	fieldRow    protowire.Number = 1
	fieldCols   protowire.Number = 2
	fieldNoData protowire.Number = 3
	fieldValues protowire.Number = 4
)

// Row is a decoded frame.
type Row struct {
	Index  int
	NoData float64
	Values []float64
}

// EncodeRow appends the wire frame for one raster row to b.
func EncodeRow(b []byte, row int, nodata float64, vals []float64) []byte {
	b = protowire.AppendTag(b, fieldRow, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(row))
	b = protowire.AppendTag(b, fieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(vals)))
	b = protowire.AppendTag(b, fieldNoData, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(nodata))

	b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vals)))
	for _, v := range vals {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// DecodeRow parses a frame produced by EncodeRow. Unknown fields are
// skipped.
func DecodeRow(b []byte) (Row, error) {
	var (
		r    Row
		cols = -1
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldRow && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Index, b = int(v), b[n:]
		case num == fieldCols && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			cols, b = int(v), b[n:]
		case num == fieldNoData && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.NoData, b = math.Float64frombits(v), b[n:]
		case num == fieldValues && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			if len(raw)%8 != 0 {
				return r, errors.New("kafka: packed values not a multiple of 8 bytes")
			}
			for len(raw) > 0 {
				v, m := protowire.ConsumeFixed64(raw)
				r.Values = append(r.Values, math.Float64frombits(v))
				raw = raw[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if cols >= 0 && cols != len(r.Values) {
		return r, fmt.Errorf("kafka: frame declares %d cols, carries %d values", cols, len(r.Values))
	}
	return r, nil
}
