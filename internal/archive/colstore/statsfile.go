package colstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Layout describes the row schema of a statistics file. Numeric channels
// carry min/max/mean, plus std and percentiles at daily resolution.
// State-valued channels carry one count column per known state instead.
type Layout struct {
	Res    types.Resolution
	DType  types.DType
	Width  int
	States []string // nil for numeric channels
}

// Numeric returns true if rows carry numeric aggregates.
func (l Layout) Numeric() bool { return l.DType.IsNumeric() }

// ItemSize returns the on-disk size of one value in the channel dtype.
func (l Layout) ItemSize() int { return l.DType.ItemSize(l.Width) }

// RowSize returns the on-disk size of one statistics row.
func (l Layout) RowSize() int {
	sz := l.ItemSize()
	n := 8 + 4 + sz // index + n + val
	if l.Numeric() {
		n += 2*sz + 4 // min + max + mean
		if l.Res.HasExtras() {
			n += 4 + 7*sz // std + percentiles
		}
	} else {
		n += 4 * len(l.States)
	}
	return n
}

// StatsBlock is a column-oriented run of statistics rows. The populated
// fields depend on the layout; all populated slices have equal length.
type StatsBlock struct {
	Index []int64
	N     []int32
	Val   types.Array

	// Numeric channels
	Min  types.Array
	Max  types.Array
	Mean []float32

	// Daily numeric extras
	Std []float32
	P01 types.Array
	P05 types.Array
	P16 types.Array
	P50 types.Array
	P84 types.Array
	P95 types.Array
	P99 types.Array

	// State-valued channels: per-state sample counts
	Counts map[string][]int32
}

// Len returns the number of rows in the block.
func (b *StatsBlock) Len() int { return len(b.Index) }

// NewStatsBlock returns an empty block with the arrays the layout needs.
func NewStatsBlock(l Layout) *StatsBlock {
	b := &StatsBlock{
		Val: types.NewArray(l.DType, 0),
	}
	if l.Numeric() {
		b.Min = types.NewArray(l.DType, 0)
		b.Max = types.NewArray(l.DType, 0)
		if l.Res.HasExtras() {
			b.P01 = types.NewArray(l.DType, 0)
			b.P05 = types.NewArray(l.DType, 0)
			b.P16 = types.NewArray(l.DType, 0)
			b.P50 = types.NewArray(l.DType, 0)
			b.P84 = types.NewArray(l.DType, 0)
			b.P95 = types.NewArray(l.DType, 0)
			b.P99 = types.NewArray(l.DType, 0)
		}
	} else {
		b.Counts = make(map[string][]int32, len(l.States))
		for _, s := range l.States {
			b.Counts[s] = nil
		}
	}
	return b
}

func (b *StatsBlock) validate(l Layout) error {
	n := len(b.Index)
	if len(b.N) != n || b.Val == nil || b.Val.Len() != n {
		return errors.NewValidation("stats block", "index/n/val lengths differ")
	}
	if l.Numeric() {
		if b.Min == nil || b.Min.Len() != n || b.Max == nil || b.Max.Len() != n || len(b.Mean) != n {
			return errors.NewValidation("stats block", "min/max/mean lengths differ")
		}
		if l.Res.HasExtras() {
			for _, p := range []types.Array{b.P01, b.P05, b.P16, b.P50, b.P84, b.P95, b.P99} {
				if p == nil || p.Len() != n {
					return errors.NewValidation("stats block", "percentile lengths differ")
				}
			}
			if len(b.Std) != n {
				return errors.NewValidation("stats block", "std length differs")
			}
		}
	} else {
		for _, s := range l.States {
			if len(b.Counts[s]) != n {
				return errors.NewValidation("stats block", "state count lengths differ")
			}
		}
	}
	return nil
}

// StatsFile stores statistics rows for one channel at one resolution.
//
// File format:
//   - Fixed header: 8 bytes magic + 4 bytes version + 1 byte resolution +
//     1 byte dtype code + 2 bytes item size + 4 bytes row size +
//     4 bytes header length + 2 bytes state count + 2 bytes state width
//   - State names: stateCount entries of stateWidth bytes, NUL-padded
//   - Rows: rowSize bytes each, sorted by ascending bucket index.
//     Indexes may have gaps where a bucket held no good samples.
type StatsFile struct {
	mu sync.Mutex

	path      string
	f         *os.File
	layout    Layout
	headerLen int64
	rowSize   int64
	rows      int64
}

const (
	statsMagic       = 0x544C415354410001 // "TLASTA" + version 1
	statsVersion     = 1
	statsFixedHeader = 28
)

func resCode(r types.Resolution) uint8 {
	switch r {
	case types.Res5Min:
		return 1
	case types.ResDaily:
		return 2
	default:
		return 0
	}
}

func resFromCode(c uint8) (types.Resolution, error) {
	switch c {
	case 1:
		return types.Res5Min, nil
	case 2:
		return types.ResDaily, nil
	default:
		return types.ResFull, fmt.Errorf("unknown resolution code: %d", c)
	}
}

// CreateStats creates a new statistics file. The file must not exist.
func CreateStats(path string, layout Layout) (*StatsFile, error) {
	if !layout.Res.IsStat() {
		return nil, errors.NewInvalidValue("resolution", layout.Res.String(), "not a statistics resolution")
	}
	if !layout.Numeric() && len(layout.States) == 0 {
		return nil, errors.NewValidation("layout", "state channel with no states")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create stats file %s: %w", path, err)
	}

	header, headerLen := encodeStatsHeader(layout)
	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &StatsFile{
		path:      path,
		f:         f,
		layout:    layout,
		headerLen: headerLen,
		rowSize:   int64(layout.RowSize()),
	}, nil
}

func encodeStatsHeader(layout Layout) ([]byte, int64) {
	stateWidth := 0
	for _, s := range layout.States {
		if len(s) > stateWidth {
			stateWidth = len(s)
		}
	}

	headerLen := statsFixedHeader + len(layout.States)*stateWidth
	header := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(header[0:8], statsMagic)
	binary.LittleEndian.PutUint32(header[8:12], statsVersion)
	header[12] = resCode(layout.Res)
	header[13] = layout.DType.Code()
	binary.LittleEndian.PutUint16(header[14:16], uint16(layout.ItemSize()))
	binary.LittleEndian.PutUint32(header[16:20], uint32(layout.RowSize()))
	binary.LittleEndian.PutUint32(header[20:24], uint32(headerLen))
	binary.LittleEndian.PutUint16(header[24:26], uint16(len(layout.States)))
	binary.LittleEndian.PutUint16(header[26:28], uint16(stateWidth))

	for i, s := range layout.States {
		copy(header[statsFixedHeader+i*stateWidth:statsFixedHeader+(i+1)*stateWidth], s)
	}

	return header, int64(headerLen)
}

// OpenStats opens an existing statistics file and validates its header.
func OpenStats(path string) (*StatsFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open stats file %s: %w", path, err)
	}

	var fixed [statsFixedHeader]byte
	if _, err := io.ReadFull(f, fixed[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, errors.ErrCorrupt)
	}

	magic := binary.LittleEndian.Uint64(fixed[0:8])
	if magic != statsMagic {
		f.Close()
		return nil, fmt.Errorf("%s: bad magic %x: %w", path, magic, errors.ErrCorrupt)
	}
	version := binary.LittleEndian.Uint32(fixed[8:12])
	if version != statsVersion {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported version %d: %w", path, version, errors.ErrCorrupt)
	}

	res, err := resFromCode(fixed[12])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v: %w", path, err, errors.ErrCorrupt)
	}
	dtype, err := types.DTypeFromCode(fixed[13])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v: %w", path, err, errors.ErrCorrupt)
	}

	itemSize := int(binary.LittleEndian.Uint16(fixed[14:16]))
	rowSize := int64(binary.LittleEndian.Uint32(fixed[16:20]))
	headerLen := int64(binary.LittleEndian.Uint32(fixed[20:24]))
	stateCount := int(binary.LittleEndian.Uint16(fixed[24:26]))
	stateWidth := int(binary.LittleEndian.Uint16(fixed[26:28]))

	width := 0
	if dtype == types.DTypeString {
		width = itemSize
	}

	layout := Layout{Res: res, DType: dtype, Width: width}
	if stateCount > 0 {
		names := make([]byte, stateCount*stateWidth)
		if _, err := io.ReadFull(f, names); err != nil {
			f.Close()
			return nil, fmt.Errorf("read states of %s: %w", path, errors.ErrCorrupt)
		}
		layout.States = make([]string, stateCount)
		for i := 0; i < stateCount; i++ {
			layout.States[i] = strings.TrimRight(string(names[i*stateWidth:(i+1)*stateWidth]), "\x00")
		}
	}

	if int64(layout.RowSize()) != rowSize {
		f.Close()
		return nil, fmt.Errorf("%s: row size %d does not match layout %d: %w",
			path, rowSize, layout.RowSize(), errors.ErrCorrupt)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	dataLen := info.Size() - headerLen
	if dataLen < 0 || dataLen%rowSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%s: truncated at %d bytes: %w", path, info.Size(), errors.ErrCorrupt)
	}

	return &StatsFile{
		path:      path,
		f:         f,
		layout:    layout,
		headerLen: headerLen,
		rowSize:   rowSize,
		rows:      dataLen / rowSize,
	}, nil
}

// OpenOrCreateStats opens the file if it exists, creating it otherwise.
func OpenOrCreateStats(path string, layout Layout) (*StatsFile, error) {
	f, err := OpenStats(path)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return CreateStats(path, layout)
	}
	return nil, err
}

// Path returns the file path.
func (f *StatsFile) Path() string { return f.path }

// Layout returns the row schema.
func (f *StatsFile) Layout() Layout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layout
}

// Rows returns the number of statistics rows in the file.
func (f *StatsFile) Rows() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

// LastIndex returns the bucket index of the final row. ok is false for an
// empty file.
func (f *StatsFile) LastIndex() (index int64, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return 0, false, errors.ErrClosed
	}
	if f.rows == 0 {
		return 0, false, nil
	}

	var buf [8]byte
	if _, err := f.f.ReadAt(buf[:], f.headerLen+(f.rows-1)*f.rowSize); err != nil {
		return 0, false, fmt.Errorf("read last index of %s: %w", f.path, err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), true, nil
}

// Append writes a block after the last existing row. Bucket indexes must
// ascend within the block and continue strictly after the file's last
// index, so re-running an aggregation pass can never rewrite a bucket.
func (f *StatsFile) Append(b *StatsBlock) error {
	if b.Len() == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return errors.ErrClosed
	}
	if err := b.validate(f.layout); err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}

	last := int64(math.MinInt64)
	if f.rows > 0 {
		var buf [8]byte
		if _, err := f.f.ReadAt(buf[:], f.headerLen+(f.rows-1)*f.rowSize); err != nil {
			return fmt.Errorf("read last index of %s: %w", f.path, err)
		}
		last = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	for i, idx := range b.Index {
		if idx <= last {
			return fmt.Errorf("%s: bucket index %d at row %d not ascending (last %d): %w",
				f.path, idx, i, last, errors.ErrInvalidArgument)
		}
		last = idx
	}

	buf := make([]byte, int64(b.Len())*f.rowSize)
	for i := 0; i < b.Len(); i++ {
		if err := f.encodeRow(buf[int64(i)*f.rowSize:], b, i); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}

	if _, err := f.f.WriteAt(buf, f.headerLen+f.rows*f.rowSize); err != nil {
		return fmt.Errorf("append to %s: %w", f.path, err)
	}
	f.rows += int64(b.Len())
	return nil
}

// ReadRows returns the rows in the half-open range [row0, row1).
func (f *StatsFile) ReadRows(row0, row1 int64) (*StatsBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readRowsLocked(row0, row1)
}

func (f *StatsFile) readRowsLocked(row0, row1 int64) (*StatsBlock, error) {
	if f.f == nil {
		return nil, errors.ErrClosed
	}
	if row0 < 0 || row1 < row0 || row1 > f.rows {
		return nil, fmt.Errorf("%s: rows [%d, %d) of %d: %w", f.path, row0, row1, f.rows, errors.ErrOutOfRange)
	}

	b := NewStatsBlock(f.layout)
	if row0 == row1 {
		return b, nil
	}

	buf := make([]byte, (row1-row0)*f.rowSize)
	if _, err := f.f.ReadAt(buf, f.headerLen+row0*f.rowSize); err != nil {
		return nil, fmt.Errorf("read %s rows [%d, %d): %w", f.path, row0, row1, err)
	}

	n := int(row1 - row0)
	b.Index = make([]int64, n)
	b.N = make([]int32, n)
	b.Val = types.NewArray(f.layout.DType, n)
	if f.layout.Numeric() {
		b.Min = types.NewArray(f.layout.DType, n)
		b.Max = types.NewArray(f.layout.DType, n)
		b.Mean = make([]float32, n)
		if f.layout.Res.HasExtras() {
			b.Std = make([]float32, n)
			b.P01 = types.NewArray(f.layout.DType, n)
			b.P05 = types.NewArray(f.layout.DType, n)
			b.P16 = types.NewArray(f.layout.DType, n)
			b.P50 = types.NewArray(f.layout.DType, n)
			b.P84 = types.NewArray(f.layout.DType, n)
			b.P95 = types.NewArray(f.layout.DType, n)
			b.P99 = types.NewArray(f.layout.DType, n)
		}
	} else {
		b.Counts = make(map[string][]int32, len(f.layout.States))
		for _, s := range f.layout.States {
			b.Counts[s] = make([]int32, n)
		}
	}

	for i := 0; i < n; i++ {
		f.decodeRow(buf[int64(i)*f.rowSize:], b, i)
	}
	return b, nil
}

// ReadIndexRange returns the rows whose bucket index lies in the half-open
// range [index0, index1).
func (f *StatsFile) ReadIndexRange(index0, index1 int64) (*StatsBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return nil, errors.ErrClosed
	}

	row0, err := f.searchIndexLocked(index0)
	if err != nil {
		return nil, err
	}
	row1, err := f.searchIndexLocked(index1)
	if err != nil {
		return nil, err
	}
	return f.readRowsLocked(row0, row1)
}

// SearchIndex returns the first row whose bucket index is >= target, or
// the row count when every row sorts before it.
func (f *StatsFile) SearchIndex(target int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return 0, errors.ErrClosed
	}
	return f.searchIndexLocked(target)
}

// searchIndexLocked returns the first row whose bucket index is >= target.
// Rows are index-sorted, so this is a binary search over single-row reads.
func (f *StatsFile) searchIndexLocked(target int64) (int64, error) {
	var searchErr error
	row := sort.Search(int(f.rows), func(i int) bool {
		if searchErr != nil {
			return true
		}
		var buf [8]byte
		if _, err := f.f.ReadAt(buf[:], f.headerLen+int64(i)*f.rowSize); err != nil {
			searchErr = fmt.Errorf("read index at row %d of %s: %w", i, f.path, err)
			return true
		}
		return int64(binary.LittleEndian.Uint64(buf[:])) >= target
	})
	if searchErr != nil {
		return 0, searchErr
	}
	return int64(row), nil
}

// TruncateFromIndex discards every row whose bucket index is >= index and
// returns the number of rows dropped.
//
// Replication uses this to rewind a replica's statistics before
// re-applying buckets; the aggregation pass itself only ever appends.
func (f *StatsFile) TruncateFromIndex(index int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return 0, errors.ErrClosed
	}

	row, err := f.searchIndexLocked(index)
	if err != nil {
		return 0, err
	}
	dropped := f.rows - row
	if dropped == 0 {
		return 0, nil
	}

	if err := f.f.Truncate(f.headerLen + row*f.rowSize); err != nil {
		return 0, fmt.Errorf("truncate %s: %w", f.path, err)
	}
	f.rows = row
	return dropped, nil
}

// AddStates rewrites the file with additional state-count columns, filled
// with zeros for existing rows. Used when a state channel first reports a
// value outside the known state set.
func (f *StatsFile) AddStates(newStates []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return errors.ErrClosed
	}
	if f.layout.Numeric() {
		return errors.NewValidation("layout", "cannot add states to a numeric channel")
	}

	known := make(map[string]bool, len(f.layout.States))
	for _, s := range f.layout.States {
		known[s] = true
	}
	var add []string
	for _, s := range newStates {
		if !known[s] {
			add = append(add, s)
			known[s] = true
		}
	}
	if len(add) == 0 {
		return nil
	}
	sort.Strings(add)

	old, err := f.readRowsLocked(0, f.rows)
	if err != nil {
		return err
	}

	widened := f.layout
	widened.States = append(append([]string{}, f.layout.States...), add...)

	tmp := f.path + ".tmp"
	os.Remove(tmp)
	nf, err := CreateStats(tmp, widened)
	if err != nil {
		return err
	}

	for _, s := range add {
		old.Counts[s] = make([]int32, old.Len())
	}
	if err := nf.Append(old); err != nil {
		nf.Close()
		os.Remove(tmp)
		return err
	}
	if err := nf.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	f.f.Close()
	f.f = nil
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		if reopened, rerr := OpenStats(f.path); rerr == nil {
			f.f = reopened.f
		}
		return fmt.Errorf("replace %s: %w", f.path, err)
	}

	reopened, err := OpenStats(f.path)
	if err != nil {
		return err
	}
	f.f = reopened.f
	f.layout = reopened.layout
	f.headerLen = reopened.headerLen
	f.rowSize = reopened.rowSize
	f.rows = reopened.rows
	return nil
}

// Close closes the file.
func (f *StatsFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

func (f *StatsFile) encodeRow(dst []byte, b *StatsBlock, i int) error {
	sz := f.layout.ItemSize()
	off := 0

	binary.LittleEndian.PutUint64(dst[off:], uint64(b.Index[i]))
	off += 8
	binary.LittleEndian.PutUint32(dst[off:], uint32(b.N[i]))
	off += 4
	if err := packValueAt(dst[off:off+sz], b.Val, i, f.layout.Width); err != nil {
		return err
	}
	off += sz

	if f.layout.Numeric() {
		if err := packValueAt(dst[off:off+sz], b.Min, i, f.layout.Width); err != nil {
			return err
		}
		off += sz
		if err := packValueAt(dst[off:off+sz], b.Max, i, f.layout.Width); err != nil {
			return err
		}
		off += sz
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(b.Mean[i]))
		off += 4

		if f.layout.Res.HasExtras() {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(b.Std[i]))
			off += 4
			for _, p := range []types.Array{b.P01, b.P05, b.P16, b.P50, b.P84, b.P95, b.P99} {
				if err := packValueAt(dst[off:off+sz], p, i, f.layout.Width); err != nil {
					return err
				}
				off += sz
			}
		}
	} else {
		for _, s := range f.layout.States {
			binary.LittleEndian.PutUint32(dst[off:], uint32(b.Counts[s][i]))
			off += 4
		}
	}
	return nil
}

func (f *StatsFile) decodeRow(src []byte, b *StatsBlock, i int) {
	sz := f.layout.ItemSize()
	off := 0

	b.Index[i] = int64(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	b.N[i] = int32(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	unpackValueAt(b.Val, i, src[off:off+sz], f.layout.Width)
	off += sz

	if f.layout.Numeric() {
		unpackValueAt(b.Min, i, src[off:off+sz], f.layout.Width)
		off += sz
		unpackValueAt(b.Max, i, src[off:off+sz], f.layout.Width)
		off += sz
		b.Mean[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
		off += 4

		if f.layout.Res.HasExtras() {
			b.Std[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
			off += 4
			for _, p := range []types.Array{b.P01, b.P05, b.P16, b.P50, b.P84, b.P95, b.P99} {
				unpackValueAt(p, i, src[off:off+sz], f.layout.Width)
				off += sz
			}
		}
	} else {
		for _, s := range f.layout.States {
			b.Counts[s][i] = int32(binary.LittleEndian.Uint32(src[off:]))
			off += 4
		}
	}
}

// packValueAt encodes element i of an array into dst.
func packValueAt(dst []byte, a types.Array, i, width int) error {
	switch v := a.(type) {
	case types.Float64s:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v[i]))
	case types.Float32s:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v[i]))
	case types.Int64s:
		binary.LittleEndian.PutUint64(dst, uint64(v[i]))
	case types.Int32s:
		binary.LittleEndian.PutUint32(dst, uint32(v[i]))
	case types.Bools:
		dst[0] = 0
		if v[i] {
			dst[0] = 1
		}
	case types.Strings:
		if len(v[i]) > width {
			return errors.NewInvalidValue("state value", v[i],
				fmt.Sprintf("longer than channel width %d", width))
		}
		for j := range dst {
			dst[j] = 0
		}
		copy(dst, v[i])
	default:
		return fmt.Errorf("unsupported array type %T", a)
	}
	return nil
}

// unpackValueAt decodes src into element i of an array.
func unpackValueAt(a types.Array, i int, src []byte, width int) {
	switch v := a.(type) {
	case types.Float64s:
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(src))
	case types.Float32s:
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(src))
	case types.Int64s:
		v[i] = int64(binary.LittleEndian.Uint64(src))
	case types.Int32s:
		v[i] = int32(binary.LittleEndian.Uint32(src))
	case types.Bools:
		v[i] = src[0] != 0
	case types.Strings:
		v[i] = strings.TrimRight(string(src[:width]), "\x00")
	}
}
