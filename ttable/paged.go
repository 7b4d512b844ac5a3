package ttable

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/google/btree"

	"github.com/happyhackingspace/wordalign/internal/sparse"
	"github.com/happyhackingspace/wordalign/internal/store"
)

// Paged keeps rows in a store and faults each one in on first touch of its
// target word. Only the NULL row and touched rows are resident.
//
// Clear is lazy: it bumps a table-wide epoch instead of visiting rows.
// Every row carries the epoch it was last zeroed or written in, and a row
// whose stamp is older than the table epoch is zeroed when it is next
// touched. In particular a row faulted in from the store after Clear comes
// back zeroed even though its stored bytes are not.
//
// Clones share the backing store. Flush writes to the shared prefix.
type Paged struct {
	st     store.Store
	prefix string

	maxE, maxF int
	null       []float32
	resident   *btree.BTreeG[*pagedRow]
	epoch      int
}

type pagedRow struct {
	e     int
	row   *sparse.IndexedFloatArray
	epoch int
	dirty bool
}

func lessRow(a, b *pagedRow) bool { return a.e < b.e }

type pagedMeta struct {
	MaxE  int `json:"max_e"`
	MaxF  int `json:"max_f"`
	Epoch int `json:"epoch"`
}

// NewPaged creates an empty table backed by st under prefix.
func NewPaged(st store.Store, prefix string, maxE, maxF int) *Paged {
	return &Paged{
		st:       st,
		prefix:   prefix,
		maxE:     maxE,
		maxF:     maxF,
		null:     make([]float32, maxF+1),
		resident: btree.NewG(8, lessRow),
	}
}

// OpenPaged opens a table previously written with Flush or PageOut.
func OpenPaged(st store.Store, prefix string) (*Paged, error) {
	data, err := st.Read(prefix + "/meta")
	if err != nil {
		return nil, fmt.Errorf("read paged table meta: %w", err)
	}
	var meta pagedMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	p := NewPaged(st, prefix, meta.MaxE, meta.MaxF)
	p.epoch = meta.Epoch
	data, err = st.Read(prefix + "/null")
	if err != nil {
		return nil, fmt.Errorf("read paged null row: %w", err)
	}
	d := &decoder{buf: data}
	n := d.uvarint()
	null := make([]float32, 0, n)
	for range n {
		null = append(null, d.float32())
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode paged null row: %w", d.err)
	}
	p.null = growDense(null, meta.MaxF)
	return p, nil
}

// PageOut writes src into st under prefix in paged layout. When prefix
// already holds a table, the new one starts one epoch past it so rows left
// over from the old table read back as zero.
func PageOut(src Table, st store.Store, prefix string) (*Paged, error) {
	p := NewPaged(st, prefix, src.MaxE(), src.MaxF())
	data, err := st.Read(prefix + "/meta")
	switch {
	case err == nil:
		var old pagedMeta
		if json.Unmarshal(data, &old) == nil {
			p.epoch = old.Epoch + 1
		}
	case !errors.Is(err, store.ErrNotExist):
		return nil, fmt.Errorf("page out table: %w", err)
	}
	var cur *sparse.IndexedFloatArray
	curE := -1
	flushRow := func() error {
		if cur == nil {
			return nil
		}
		return st.Write(p.rowName(curE), encodeStoredRow(p.epoch, cur))
	}
	err = src.Each(func(e, f int, v float32) error {
		if e == 0 {
			p.null = growDense(p.null, f)
			p.null[f] = v
			return nil
		}
		if e != curE {
			if err := flushRow(); err != nil {
				return err
			}
			cur, curE = sparse.New(0), e
		}
		cur.Set(f, v)
		return nil
	})
	if err == nil {
		err = flushRow()
	}
	if err == nil {
		err = p.writeHeader()
	}
	if err != nil {
		return nil, fmt.Errorf("page out table: %w", err)
	}
	return p, nil
}

func (p *Paged) rowName(e int) string {
	return p.prefix + "/rows/" + strconv.Itoa(e)
}

// load faults row e in. When create is false a missing row yields nil.
func (p *Paged) load(e int, create bool) (*pagedRow, bool, error) {
	if r, ok := p.resident.Get(&pagedRow{e: e}); ok {
		if r.epoch < p.epoch {
			r.row.Clear()
			r.epoch = p.epoch
			r.dirty = true
		}
		return r, true, nil
	}
	name := p.rowName(e)
	ok, err := p.st.Exists(name)
	if err != nil {
		return nil, false, fmt.Errorf("check row %d: %w", e, err)
	}
	var r *pagedRow
	if ok {
		data, err := p.st.Read(name)
		if err != nil {
			return nil, false, fmt.Errorf("read row %d: %w", e, err)
		}
		epoch, row, err := decodeStoredRow(data)
		if err != nil {
			return nil, false, fmt.Errorf("decode row %d: %w", e, err)
		}
		if epoch < p.epoch {
			row.Clear()
		}
		r = &pagedRow{e: e, row: row, epoch: p.epoch}
	} else {
		if !create {
			return nil, false, nil
		}
		r = &pagedRow{e: e, row: sparse.New(0), epoch: p.epoch, dirty: true}
	}
	p.resident.ReplaceOrInsert(r)
	return r, false, nil
}

// visit applies fn to row e without leaving a previously non-resident row
// resident. Dirty rows that were paged in for the visit are written back
// when writeBack is set.
func (p *Paged) visit(e int, writeBack bool, fn func(r *pagedRow)) error {
	r, wasResident, err := p.load(e, false)
	if err != nil || r == nil {
		return err
	}
	fn(r)
	if wasResident {
		return nil
	}
	if writeBack && r.dirty {
		if err := p.st.Write(p.rowName(e), encodeStoredRow(r.epoch, r.row)); err != nil {
			return fmt.Errorf("write row %d: %w", e, err)
		}
	}
	p.resident.Delete(r)
	return nil
}

// Get returns the value of (e,f), or 0 if absent. It may fault row e in.
func (p *Paged) Get(e, f int) (float32, error) {
	if e == 0 {
		if f >= 0 && f < len(p.null) {
			return p.null[f], nil
		}
		return 0, nil
	}
	if e < 0 || e > p.maxE {
		return 0, nil
	}
	r, _, err := p.load(e, false)
	if err != nil || r == nil {
		return 0, err
	}
	return r.row.Get(f), nil
}

func (p *Paged) update(e, f int, fn func(row *sparse.IndexedFloatArray)) error {
	if err := checkIDs(e, f); err != nil {
		return err
	}
	r, _, err := p.load(e, true)
	if err != nil {
		return err
	}
	fn(r.row)
	r.dirty = true
	p.maxE = max(p.maxE, e)
	p.maxF = max(p.maxF, f)
	return nil
}

func (p *Paged) nullCell(f int) (*float32, error) {
	if f < 0 {
		return nil, checkIDs(0, f)
	}
	p.null = growDense(p.null, f)
	p.maxF = max(p.maxF, f)
	return &p.null[f], nil
}

// Add accumulates delta into (e,f), creating the cell if needed.
func (p *Paged) Add(e, f int, delta float32) error {
	if e == 0 {
		c, err := p.nullCell(f)
		if err != nil {
			return err
		}
		*c += delta
		return nil
	}
	return p.update(e, f, func(row *sparse.IndexedFloatArray) { row.Add(f, delta) })
}

// Set overwrites (e,f), creating the cell if needed.
func (p *Paged) Set(e, f int, value float32) error {
	if e == 0 {
		c, err := p.nullCell(f)
		if err != nil {
			return err
		}
		*c = value
		return nil
	}
	return p.update(e, f, func(row *sparse.IndexedFloatArray) { row.Set(f, value) })
}

// SetRow replaces the values of row e.
func (p *Paged) SetRow(e int, values []float32) error {
	var dst []float32
	var r *pagedRow
	switch {
	case e == 0:
		dst = p.null
	case e > 0:
		var err error
		r, _, err = p.load(e, false)
		if err != nil {
			return err
		}
		if r != nil {
			dst = r.row.Values
		}
	}
	if len(values) != len(dst) {
		return fmt.Errorf("%w: row %d has %d cells, got %d", ErrRowLength, e, len(dst), len(values))
	}
	copy(dst, values)
	if r != nil {
		r.dirty = true
	}
	return nil
}

// Coord returns a handle to (e,f), faulting row e in.
func (p *Paged) Coord(e, f int) (Coord, error) {
	if e == 0 {
		if f >= 0 && f < len(p.null) {
			return Coord{Row: 0, Offset: f}, nil
		}
		return Coord{}, fmt.Errorf("%w: (f=%d, e=%d)", ErrCellNotFound, f, e)
	}
	if e > p.maxE {
		return Coord{}, fmt.Errorf("%w: (f=%d, e=%d)", ErrCellNotFound, f, e)
	}
	r, _, err := p.load(e, false)
	if err != nil {
		return Coord{}, err
	}
	if r != nil {
		if pos := r.row.Find(f); pos >= 0 {
			return Coord{Row: e, Offset: pos}, nil
		}
	}
	return Coord{}, fmt.Errorf("%w: (f=%d, e=%d)", ErrCellNotFound, f, e)
}

// AddAt accumulates delta into the cell addressed by c.
func (p *Paged) AddAt(c Coord, delta float32) error {
	if c.Row == 0 {
		p.null[c.Offset] += delta
		return nil
	}
	r, _, err := p.load(c.Row, false)
	if err != nil {
		return err
	}
	if r == nil || c.Offset >= r.row.Len() {
		return fmt.Errorf("%w: stale handle %+v", ErrCellNotFound, c)
	}
	r.row.Values[c.Offset] += delta
	r.dirty = true
	return nil
}

// rowIDs returns every row id that is resident or stored.
func (p *Paged) rowIDs() ([]int, error) {
	var ids []int
	for e := 1; e <= p.maxE; e++ {
		if _, ok := p.resident.Get(&pagedRow{e: e}); ok {
			ids = append(ids, e)
			continue
		}
		ok, err := p.st.Exists(p.rowName(e))
		if err != nil {
			return nil, fmt.Errorf("check row %d: %w", e, err)
		}
		if ok {
			ids = append(ids, e)
		}
	}
	return ids, nil
}

// Normalize makes every row sum to one. Rows that were not resident are
// written back and dropped again.
func (p *Paged) Normalize() error {
	normalizeDense(p.null)
	ids, err := p.rowIDs()
	if err != nil {
		return err
	}
	for _, e := range ids {
		err := p.visit(e, true, func(r *pagedRow) {
			r.row.Normalize()
			r.dirty = true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear zeroes the table lazily. See the type documentation.
func (p *Paged) Clear() {
	clear(p.null)
	p.epoch++
}

// Each calls fn for every defined cell, faulting rows in as needed.
func (p *Paged) Each(fn func(e, f int, v float32) error) error {
	for f, v := range p.null {
		if err := fn(0, f, v); err != nil {
			return err
		}
	}
	ids, err := p.rowIDs()
	if err != nil {
		return err
	}
	for _, e := range ids {
		var cbErr error
		err := p.visit(e, false, func(r *pagedRow) {
			for i, f := range r.row.Indices {
				if cbErr = fn(e, int(f), r.row.Values[i]); cbErr != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}
		if cbErr != nil {
			return cbErr
		}
	}
	return nil
}

// MaxE returns the largest target word id.
func (p *Paged) MaxE() int { return p.maxE }

// MaxF returns the largest source word id.
func (p *Paged) MaxF() int { return p.maxF }

// Resident returns the number of rows currently held in memory.
func (p *Paged) Resident() int { return p.resident.Len() }

// Location returns the backing store and blob prefix.
func (p *Paged) Location() (store.Store, string) { return p.st, p.prefix }

// Clone returns a copy with its own resident rows, sharing the store.
func (p *Paged) Clone() Table {
	c := NewPaged(p.st, p.prefix, p.maxE, p.maxF)
	c.null = slices.Clone(p.null)
	c.epoch = p.epoch
	p.resident.Ascend(func(r *pagedRow) bool {
		c.resident.ReplaceOrInsert(&pagedRow{e: r.e, row: r.row.Clone(), epoch: r.epoch, dirty: r.dirty})
		return true
	})
	return c
}

func (p *Paged) writeHeader() error {
	meta, err := json.Marshal(pagedMeta{MaxE: p.maxE, MaxF: p.maxF, Epoch: p.epoch})
	if err != nil {
		return err
	}
	if err := p.st.Write(p.prefix+"/meta", meta); err != nil {
		return err
	}
	buf := binary.AppendUvarint(nil, uint64(len(p.null)))
	for _, v := range p.null {
		buf = appendFloat32(buf, v)
	}
	return p.st.Write(p.prefix+"/null", buf)
}

// Flush writes dirty resident rows and the table header to the store.
func (p *Paged) Flush() error {
	var err error
	written := 0
	p.resident.Ascend(func(r *pagedRow) bool {
		if r.epoch < p.epoch {
			r.row.Clear()
			r.epoch = p.epoch
			r.dirty = true
		}
		if !r.dirty {
			return true
		}
		if err = p.st.Write(p.rowName(r.e), encodeStoredRow(r.epoch, r.row)); err != nil {
			err = fmt.Errorf("write row %d: %w", r.e, err)
			return false
		}
		r.dirty = false
		written++
		return true
	})
	if err != nil {
		return err
	}
	if err := p.writeHeader(); err != nil {
		return fmt.Errorf("write paged table header: %w", err)
	}
	slog.Debug("Flushed paged table", "prefix", p.prefix, "rows", written)
	return nil
}

// Evict flushes and drops all resident rows.
func (p *Paged) Evict() error {
	if err := p.Flush(); err != nil {
		return err
	}
	p.resident.Clear(false)
	return nil
}

// Release drops every resident row that has no unwritten changes and
// returns how many were dropped. Dirty rows stay until Flush or Evict.
// A read-only view can call it to bound its memory without touching the
// store.
func (p *Paged) Release() int {
	var clean []*pagedRow
	p.resident.Ascend(func(r *pagedRow) bool {
		if !r.dirty {
			clean = append(clean, r)
		}
		return true
	})
	for _, r := range clean {
		p.resident.Delete(r)
	}
	return len(clean)
}

// WriteTo serializes the whole table, faulting rows in one at a time.
func (p *Paged) WriteTo(w io.Writer) (int64, error) {
	ids, err := p.rowIDs()
	if err != nil {
		return 0, err
	}
	rows := make([]rowEntry, 0, len(ids))
	for _, e := range ids {
		err := p.visit(e, false, func(r *pagedRow) {
			if r.row.Len() > 0 {
				rows = append(rows, rowEntry{e: e, row: r.row.Clone()})
			}
		})
		if err != nil {
			return 0, err
		}
	}
	return writeTable(w, p.maxE, p.maxF, p.null, rows)
}

// ReadFrom replaces the table contents with serialized data. All rows
// become resident and dirty; the store is untouched until Flush. Rows
// already in the store but absent from the data read back as zero.
func (p *Paged) ReadFrom(r io.Reader) (int64, error) {
	img, n, err := readTable(r)
	if err != nil {
		return n, fmt.Errorf("read paged table: %w", err)
	}
	p.resident.Clear(false)
	p.epoch++
	p.maxE = img.maxE
	p.maxF = max(img.maxF, len(img.null)-1)
	p.null = growDense(img.null, p.maxF)
	for _, re := range img.rows {
		p.resident.ReplaceOrInsert(&pagedRow{e: re.e, row: re.row, epoch: p.epoch, dirty: true})
	}
	return n, nil
}
