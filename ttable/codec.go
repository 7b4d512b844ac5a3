package ttable

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/happyhackingspace/wordalign/internal/sparse"
)

// Serialized layout, integers as uvarints, floats as little-endian float32:
//
//	maxE maxF
//	len(null) null[0] ... null[len-1]
//	rowCount
//	rowCount x (e n n x (f value))
//
// All strategies share the layout, so a table written by one can be read
// by any other.

type rowEntry struct {
	e   int
	row *sparse.IndexedFloatArray
}

func appendFloat32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

func appendRow(buf []byte, row *sparse.IndexedFloatArray) []byte {
	buf = binary.AppendUvarint(buf, uint64(row.Len()))
	for i, f := range row.Indices {
		buf = binary.AppendUvarint(buf, uint64(f))
		buf = appendFloat32(buf, row.Values[i])
	}
	return buf
}

func encodeTable(maxE, maxF int, null []float32, rows []rowEntry) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(maxE))
	buf = binary.AppendUvarint(buf, uint64(maxF))
	buf = binary.AppendUvarint(buf, uint64(len(null)))
	for _, v := range null {
		buf = appendFloat32(buf, v)
	}
	buf = binary.AppendUvarint(buf, uint64(len(rows)))
	for _, r := range rows {
		buf = binary.AppendUvarint(buf, uint64(r.e))
		buf = appendRow(buf, r.row)
	}
	return buf
}

func writeTable(w io.Writer, maxE, maxF int, null []float32, rows []rowEntry) (int64, error) {
	n, err := w.Write(encodeTable(maxE, maxF, null, rows))
	return int64(n), err
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 || v > math.MaxInt32 {
		d.err = ErrCorrupt
		return 0
	}
	d.buf = d.buf[n:]
	return int(v)
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = ErrCorrupt
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(d.buf))
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) row() *sparse.IndexedFloatArray {
	n := d.uvarint()
	if d.err != nil || n > len(d.buf) {
		d.err = ErrCorrupt
		return nil
	}
	row := sparse.New(n)
	prev := -1
	for range n {
		f := d.uvarint()
		v := d.float32()
		if d.err != nil {
			return nil
		}
		if f <= prev {
			d.err = ErrCorrupt
			return nil
		}
		prev = f
		row.Indices = append(row.Indices, int32(f))
		row.Values = append(row.Values, v)
	}
	return row
}

type tableImage struct {
	maxE, maxF int
	null       []float32
	rows       []rowEntry
}

func readTable(r io.Reader) (tableImage, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return tableImage{}, int64(len(data)), err
	}
	img, err := decodeTable(data)
	return img, int64(len(data)), err
}

func decodeTable(data []byte) (tableImage, error) {
	d := &decoder{buf: data}
	img := tableImage{
		maxE: d.uvarint(),
		maxF: d.uvarint(),
	}
	n := d.uvarint()
	if d.err == nil && n > len(d.buf) {
		d.err = ErrCorrupt
	}
	if d.err != nil {
		return tableImage{}, d.err
	}
	img.null = make([]float32, n)
	for i := range img.null {
		img.null[i] = d.float32()
	}
	count := d.uvarint()
	if d.err == nil && count > len(d.buf) {
		d.err = ErrCorrupt
	}
	prev := 0
	for i := 0; i < count && d.err == nil; i++ {
		e := d.uvarint()
		if d.err == nil && (e <= prev || e > img.maxE) {
			return tableImage{}, fmt.Errorf("%w: row %d out of order", ErrCorrupt, e)
		}
		prev = e
		row := d.row()
		if d.err == nil {
			img.rows = append(img.rows, rowEntry{e: e, row: row})
		}
	}
	if d.err != nil {
		return tableImage{}, d.err
	}
	return img, nil
}

// encodeStoredRow prefixes a row with the clear epoch it was written in.
func encodeStoredRow(epoch int, row *sparse.IndexedFloatArray) []byte {
	buf := binary.AppendUvarint(nil, uint64(epoch))
	return appendRow(buf, row)
}

func decodeStoredRow(data []byte) (int, *sparse.IndexedFloatArray, error) {
	d := &decoder{buf: data}
	epoch := d.uvarint()
	row := d.row()
	if d.err != nil {
		return 0, nil, d.err
	}
	return epoch, row, nil
}
