package colstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

func TestFile_CreateAppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TEPHIN.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Append(types.Float64s{1.5, 2.5, 3.5}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Append(types.Float64s{4.5}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if f.Rows() != 4 {
		t.Errorf("expected 4 rows, got %d", f.Rows())
	}

	got, err := f.Read(1, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	vals := got.(types.Float64s)
	if len(vals) != 2 || vals[0] != 2.5 || vals[1] != 3.5 {
		t.Errorf("expected [2.5 3.5], got %v", vals)
	}
}

func TestFile_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AOPCADMD.dat")

	f, err := Create(path, types.DTypeString, 4, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Append(types.Strings{"NPNT", "NMAN"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Close()

	f2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f2.Close()

	if f2.DType() != types.DTypeString || f2.Width() != 4 {
		t.Errorf("expected string width 4, got %s width %d", f2.DType(), f2.Width())
	}
	if f2.Rows() != 2 {
		t.Errorf("expected 2 rows, got %d", f2.Rows())
	}

	got, err := f2.Read(0, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	vals := got.(types.Strings)
	if vals[0] != "NPNT" || vals[1] != "NMAN" {
		t.Errorf("expected [NPNT NMAN], got %v", vals)
	}
}

func TestFile_ShortStringPadding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "STATE.dat")

	f, err := Create(path, types.DTypeString, 8, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Append(types.Strings{"ON", "STANDBY"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := f.Read(0, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	vals := got.(types.Strings)
	if vals[0] != "ON" || vals[1] != "STANDBY" {
		t.Errorf("padding not trimmed: %q", vals)
	}

	if err := f.Append(types.Strings{"TOOLONGSTATE"}); err == nil {
		t.Error("expected error for over-width value")
	}
}

func TestFile_AllDTypes(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		in   types.Array
	}{
		{"f8", types.Float64s{-1.25, 0, 2.5}},
		{"f4", types.Float32s{-1.25, 0, 2.5}},
		{"i8", types.Int64s{-9, 0, 1 << 40}},
		{"i4", types.Int32s{-9, 0, 12345}},
		{"b", types.Bools{true, false, true}},
	}

	for _, tc := range cases {
		path := filepath.Join(dir, tc.name+".dat")
		f, err := Create(path, tc.in.DType(), 0, 0)
		if err != nil {
			t.Fatalf("%s: Create: %v", tc.name, err)
		}
		if err := f.Append(tc.in); err != nil {
			t.Fatalf("%s: Append: %v", tc.name, err)
		}
		got, err := f.Read(0, int64(tc.in.Len()))
		if err != nil {
			t.Fatalf("%s: Read: %v", tc.name, err)
		}
		for i := 0; i < tc.in.Len(); i++ {
			if got.At(i) != tc.in.At(i) {
				t.Errorf("%s: row %d: expected %v, got %v", tc.name, i, tc.in.At(i), got.At(i))
			}
		}
		f.Close()
	}
}

func TestFile_DTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Append(types.Int64s{1}); !errors.Is(err, errors.ErrDTypeMismatch) {
		t.Errorf("expected dtype mismatch, got %v", err)
	}
}

func TestFile_ReadOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Append(types.Float64s{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := f.Read(0, 3); !errors.Is(err, errors.ErrOutOfRange) {
		t.Errorf("expected out of range, got %v", err)
	}
	if _, err := f.Read(-1, 1); !errors.Is(err, errors.ErrOutOfRange) {
		t.Errorf("expected out of range, got %v", err)
	}

	// Empty range is valid.
	got, err := f.Read(1, 1)
	if err != nil {
		t.Fatalf("Read empty: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("expected empty array, got %d", got.Len())
	}
}

func TestFile_MarkBadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.qual")

	f, err := Create(path, types.DTypeBool, 0, flagQuality)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Append(types.Bools{false, false, false, false}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.MarkBadFrom(2); err != nil {
		t.Fatalf("MarkBadFrom: %v", err)
	}

	got, err := f.ReadBools(0, 4)
	if err != nil {
		t.Fatalf("ReadBools: %v", err)
	}
	want := []bool{false, false, true, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	// Marking from the end is a no-op.
	if err := f.MarkBadFrom(4); err != nil {
		t.Errorf("MarkBadFrom at end: %v", err)
	}
}

func TestFile_MarkBadFromDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := Create(path, types.DTypeBool, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.MarkBadFrom(0); err == nil {
		t.Error("expected error marking a non-quality file")
	}
}

func TestFile_CorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.LittleEndian.PutUint64(raw[0:8], 0xDEADBEEF)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(path); !errors.Is(err, errors.ErrCorrupt) {
		t.Errorf("expected corrupt error, got %v", err)
	}
}

func TestFile_TruncatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Append(types.Float64s{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Close()

	// Chop mid-element.
	if err := os.Truncate(path, headerSize+12); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if _, err := Open(path); !errors.Is(err, errors.ErrCorrupt) {
		t.Errorf("expected corrupt error, got %v", err)
	}
}

func TestOpenOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.dat")

	f, err := OpenOrCreate(path, types.DTypeInt32, 0, 0)
	if err != nil {
		t.Fatalf("OpenOrCreate (create): %v", err)
	}
	if err := f.Append(types.Int32s{7}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Close()

	f2, err := OpenOrCreate(path, types.DTypeInt32, 0, 0)
	if err != nil {
		t.Fatalf("OpenOrCreate (open): %v", err)
	}
	defer f2.Close()
	if f2.Rows() != 1 {
		t.Errorf("expected 1 row, got %d", f2.Rows())
	}

	if _, err := OpenOrCreate(path, types.DTypeFloat64, 0, 0); !errors.Is(err, errors.ErrDTypeMismatch) {
		t.Errorf("expected dtype mismatch, got %v", err)
	}
}

func TestFile_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TEPHIN.dat")

	f, err := Create(path, types.DTypeFloat64, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Append(types.Float64s{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := f.Truncate(3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if f.Rows() != 3 {
		t.Errorf("expected 3 rows, got %d", f.Rows())
	}

	// Truncating at or past the end is a no-op.
	if err := f.Truncate(3); err != nil {
		t.Fatalf("Truncate at end: %v", err)
	}
	if err := f.Truncate(10); !errors.Is(err, errors.ErrOutOfRange) {
		t.Errorf("expected out of range, got %v", err)
	}
	f.Close()

	// Reopen sees the shortened file and appends continue from row 3.
	f2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f2.Close()
	if f2.Rows() != 3 {
		t.Fatalf("expected 3 rows after reopen, got %d", f2.Rows())
	}
	if err := f2.Append(types.Float64s{30}); err != nil {
		t.Fatalf("Append after truncate: %v", err)
	}

	got, err := f2.Read(0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	vals := got.(types.Float64s)
	if vals[2] != 3 || vals[3] != 30 {
		t.Errorf("expected [... 3 30], got %v", vals)
	}
}
