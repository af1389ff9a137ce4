package colstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// File is a single column file: a fixed header followed by packed
// fixed-width values, little-endian.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version + 1 byte dtype code +
//     1 byte flags + 2 bytes item size + 8 bytes reserved
//   - Rows: itemSize bytes each, row count = (file size - header) / itemSize
type File struct {
	mu sync.Mutex

	path  string
	f     *os.File
	dtype types.DType
	width int
	flags uint8
	rows  int64
}

const (
	colMagic   = 0x544C41434F4C0001 // "TLACOL" + version 1
	colVersion = 1
	headerSize = 24

	// flagQuality marks the quality member of a data/quality file pair.
	flagQuality = 0x01
)

// Create creates a new column file. The file must not already exist.
func Create(path string, dtype types.DType, width int, flags uint8) (*File, error) {
	itemSize := dtype.ItemSize(width)
	if itemSize <= 0 || itemSize > math.MaxUint16 {
		return nil, errors.NewInvalidValue("item size", itemSize, "must be in [1, 65535]")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create column file %s: %w", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], colMagic)
	binary.LittleEndian.PutUint32(header[8:12], colVersion)
	header[12] = dtype.Code()
	header[13] = flags
	binary.LittleEndian.PutUint16(header[14:16], uint16(itemSize))

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &File{
		path:  path,
		f:     f,
		dtype: dtype,
		width: width,
		flags: flags,
	}, nil
}

// Open opens an existing column file and validates its header.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open column file %s: %w", path, err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, errors.ErrCorrupt)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != colMagic {
		f.Close()
		return nil, fmt.Errorf("%s: bad magic %x: %w", path, magic, errors.ErrCorrupt)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != colVersion {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported version %d: %w", path, version, errors.ErrCorrupt)
	}

	dtype, err := types.DTypeFromCode(header[12])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v: %w", path, err, errors.ErrCorrupt)
	}

	flags := header[13]
	itemSize := int(binary.LittleEndian.Uint16(header[14:16]))

	width := 0
	if dtype == types.DTypeString {
		width = itemSize
	}
	if dtype.ItemSize(width) != itemSize {
		f.Close()
		return nil, fmt.Errorf("%s: item size %d does not match dtype %s: %w",
			path, itemSize, dtype, errors.ErrCorrupt)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	dataLen := info.Size() - headerSize
	if dataLen < 0 || dataLen%int64(itemSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("%s: truncated at %d bytes: %w", path, info.Size(), errors.ErrCorrupt)
	}

	return &File{
		path:  path,
		f:     f,
		dtype: dtype,
		width: width,
		flags: flags,
		rows:  dataLen / int64(itemSize),
	}, nil
}

// OpenOrCreate opens the file if it exists, creating it otherwise.
func OpenOrCreate(path string, dtype types.DType, width int, flags uint8) (*File, error) {
	f, err := Open(path)
	if err == nil {
		if f.dtype != dtype {
			f.Close()
			return nil, fmt.Errorf("%s: has dtype %s, want %s: %w", path, f.dtype, dtype, errors.ErrDTypeMismatch)
		}
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Create(path, dtype, width, flags)
	}
	return nil, err
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// DType returns the element dtype.
func (f *File) DType() types.DType { return f.dtype }

// Width returns the string width, 0 for other dtypes.
func (f *File) Width() int { return f.width }

// ItemSize returns the on-disk size of one element.
func (f *File) ItemSize() int { return f.dtype.ItemSize(f.width) }

// IsQuality returns true for the quality member of a file pair.
func (f *File) IsQuality() bool { return f.flags&flagQuality != 0 }

// Rows returns the number of rows currently in the file.
func (f *File) Rows() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

// Append packs the array and writes it after the last existing row.
func (f *File) Append(a types.Array) error {
	if a.Len() == 0 {
		return nil
	}
	if a.DType() != f.dtype {
		return fmt.Errorf("%s: append %s: %w", f.path, a.DType(), errors.ErrDTypeMismatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return errors.ErrClosed
	}

	buf, err := packArray(a, f.width)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}

	off := headerSize + f.rows*int64(f.ItemSize())
	if _, err := f.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("append to %s: %w", f.path, err)
	}

	f.rows += int64(a.Len())
	return nil
}

// Read returns the rows in the half-open range [row0, row1).
func (f *File) Read(row0, row1 int64) (types.Array, error) {
	f.mu.Lock()
	rows := f.rows
	file := f.f
	f.mu.Unlock()

	if file == nil {
		return nil, errors.ErrClosed
	}
	if row0 < 0 || row1 < row0 || row1 > rows {
		return nil, fmt.Errorf("%s: rows [%d, %d) of %d: %w", f.path, row0, row1, rows, errors.ErrOutOfRange)
	}
	if row0 == row1 {
		return types.NewArray(f.dtype, 0), nil
	}

	itemSize := f.ItemSize()
	buf := make([]byte, (row1-row0)*int64(itemSize))
	off := headerSize + row0*int64(itemSize)
	if _, err := file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read %s rows [%d, %d): %w", f.path, row0, row1, err)
	}

	return unpackArray(buf, f.dtype, f.width), nil
}

// ReadBools returns a bool slice for the range. The file must hold bools.
func (f *File) ReadBools(row0, row1 int64) ([]bool, error) {
	if f.dtype != types.DTypeBool {
		return nil, fmt.Errorf("%s: not a bool column: %w", f.path, errors.ErrDTypeMismatch)
	}
	a, err := f.Read(row0, row1)
	if err != nil {
		return nil, err
	}
	return a.(types.Bools), nil
}

// MarkBadFrom sets every quality flag from row to the end of the file.
// Rows are never deleted; superseded data is flagged instead.
func (f *File) MarkBadFrom(row int64) error {
	if !f.IsQuality() {
		return fmt.Errorf("%s: not a quality file: %w", f.path, errors.ErrDTypeMismatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return errors.ErrClosed
	}
	if row < 0 || row > f.rows {
		return fmt.Errorf("%s: row %d of %d: %w", f.path, row, f.rows, errors.ErrOutOfRange)
	}
	if row == f.rows {
		return nil
	}

	buf := make([]byte, f.rows-row)
	for i := range buf {
		buf[i] = 1
	}
	if _, err := f.f.WriteAt(buf, headerSize+row); err != nil {
		return fmt.Errorf("mark bad in %s: %w", f.path, err)
	}
	return nil
}

// Truncate discards every row from the given one to the end of the file.
//
// Normal operation never deletes data; this exists solely for replication,
// which may have to rewind a replica to the last published row before
// re-applying a bundle.
func (f *File) Truncate(row int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return errors.ErrClosed
	}
	if row < 0 || row > f.rows {
		return fmt.Errorf("%s: row %d of %d: %w", f.path, row, f.rows, errors.ErrOutOfRange)
	}
	if row == f.rows {
		return nil
	}

	if err := f.f.Truncate(headerSize + row*int64(f.ItemSize())); err != nil {
		return fmt.Errorf("truncate %s: %w", f.path, err)
	}
	f.rows = row
	return nil
}

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return errors.ErrClosed
	}
	return f.f.Sync()
}

// Close closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// packArray encodes an array as packed little-endian bytes.
func packArray(a types.Array, width int) ([]byte, error) {
	itemSize := a.DType().ItemSize(width)
	buf := make([]byte, a.Len()*itemSize)

	switch v := a.(type) {
	case types.Float64s:
		for i, x := range v {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
		}
	case types.Float32s:
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
	case types.Int64s:
		for i, x := range v {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(x))
		}
	case types.Int32s:
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(x))
		}
	case types.Bools:
		for i, x := range v {
			if x {
				buf[i] = 1
			}
		}
	case types.Strings:
		for i, x := range v {
			if len(x) > width {
				return nil, errors.NewInvalidValue("state value", x,
					fmt.Sprintf("longer than channel width %d", width))
			}
			copy(buf[i*width:(i+1)*width], x)
		}
	default:
		return nil, fmt.Errorf("unsupported array type %T", a)
	}

	return buf, nil
}

// unpackArray decodes packed little-endian bytes into an array.
func unpackArray(buf []byte, dtype types.DType, width int) types.Array {
	itemSize := dtype.ItemSize(width)
	n := len(buf) / itemSize

	switch dtype {
	case types.DTypeFloat64:
		out := make(types.Float64s, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return out
	case types.DTypeFloat32:
		out := make(types.Float32s, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out
	case types.DTypeInt64:
		out := make(types.Int64s, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return out
	case types.DTypeInt32:
		out := make(types.Int32s, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out
	case types.DTypeBool:
		out := make(types.Bools, n)
		for i := range out {
			out[i] = buf[i] != 0
		}
		return out
	case types.DTypeString:
		out := make(types.Strings, n)
		for i := range out {
			out[i] = strings.TrimRight(string(buf[i*width:(i+1)*width]), "\x00")
		}
		return out
	default:
		return nil
	}
}
