package types

import (
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
)

// Array is a typed column of values. Exactly one concrete type exists per
// DType, so code that needs the element type switches on the concrete
// types rather than reflecting. Slice returns a view sharing the backing
// slice; Filter, Take and Append allocate new arrays.
type Array interface {
	DType() DType
	Len() int

	// Slice returns the half-open element range [i, j).
	Slice(i, j int) Array

	// Filter returns the elements where keep[i] is true.
	Filter(keep []bool) Array

	// Take returns the elements at the given indexes, in order.
	Take(idx []int) Array

	// Append concatenates other onto this array. The dtypes must match.
	Append(other Array) (Array, error)

	// At returns the boxed element at i.
	At(i int) any

	// Float64At returns the element at i as a float64. The second return
	// is false for dtypes with no numeric rendering (strings).
	Float64At(i int) (float64, bool)
}

// NewArray returns a zeroed array of the given dtype and length.
func NewArray(d DType, n int) Array {
	switch d {
	case DTypeFloat64:
		return make(Float64s, n)
	case DTypeFloat32:
		return make(Float32s, n)
	case DTypeInt64:
		return make(Int64s, n)
	case DTypeInt32:
		return make(Int32s, n)
	case DTypeBool:
		return make(Bools, n)
	case DTypeString:
		return make(Strings, n)
	default:
		return nil
	}
}

func appendMismatch(dst, src Array) error {
	return fmt.Errorf("append %s to %s: %w", src.DType(), dst.DType(), errors.ErrDTypeMismatch)
}

// Float64s is the Array for DTypeFloat64.
type Float64s []float64

func (a Float64s) DType() DType                    { return DTypeFloat64 }
func (a Float64s) Len() int                        { return len(a) }
func (a Float64s) Slice(i, j int) Array            { return a[i:j] }
func (a Float64s) At(i int) any                    { return a[i] }
func (a Float64s) Float64At(i int) (float64, bool) { return a[i], true }

func (a Float64s) Filter(keep []bool) Array {
	out := make(Float64s, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Float64s) Take(idx []int) Array {
	out := make(Float64s, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Float64s) Append(other Array) (Array, error) {
	b, ok := other.(Float64s)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}

// Float32s is the Array for DTypeFloat32.
type Float32s []float32

func (a Float32s) DType() DType                    { return DTypeFloat32 }
func (a Float32s) Len() int                        { return len(a) }
func (a Float32s) Slice(i, j int) Array            { return a[i:j] }
func (a Float32s) At(i int) any                    { return a[i] }
func (a Float32s) Float64At(i int) (float64, bool) { return float64(a[i]), true }

func (a Float32s) Filter(keep []bool) Array {
	out := make(Float32s, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Float32s) Take(idx []int) Array {
	out := make(Float32s, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Float32s) Append(other Array) (Array, error) {
	b, ok := other.(Float32s)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}

// Int64s is the Array for DTypeInt64.
type Int64s []int64

func (a Int64s) DType() DType                    { return DTypeInt64 }
func (a Int64s) Len() int                        { return len(a) }
func (a Int64s) Slice(i, j int) Array            { return a[i:j] }
func (a Int64s) At(i int) any                    { return a[i] }
func (a Int64s) Float64At(i int) (float64, bool) { return float64(a[i]), true }

func (a Int64s) Filter(keep []bool) Array {
	out := make(Int64s, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Int64s) Take(idx []int) Array {
	out := make(Int64s, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Int64s) Append(other Array) (Array, error) {
	b, ok := other.(Int64s)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}

// Int32s is the Array for DTypeInt32.
type Int32s []int32

func (a Int32s) DType() DType                    { return DTypeInt32 }
func (a Int32s) Len() int                        { return len(a) }
func (a Int32s) Slice(i, j int) Array            { return a[i:j] }
func (a Int32s) At(i int) any                    { return a[i] }
func (a Int32s) Float64At(i int) (float64, bool) { return float64(a[i]), true }

func (a Int32s) Filter(keep []bool) Array {
	out := make(Int32s, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Int32s) Take(idx []int) Array {
	out := make(Int32s, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Int32s) Append(other Array) (Array, error) {
	b, ok := other.(Int32s)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}

// Bools is the Array for DTypeBool.
type Bools []bool

func (a Bools) DType() DType         { return DTypeBool }
func (a Bools) Len() int             { return len(a) }
func (a Bools) Slice(i, j int) Array { return a[i:j] }
func (a Bools) At(i int) any         { return a[i] }

func (a Bools) Float64At(i int) (float64, bool) {
	if a[i] {
		return 1, true
	}
	return 0, true
}

func (a Bools) Filter(keep []bool) Array {
	out := make(Bools, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Bools) Take(idx []int) Array {
	out := make(Bools, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Bools) Append(other Array) (Array, error) {
	b, ok := other.(Bools)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}

// Strings is the Array for DTypeString. On disk the values are NUL-padded
// to the channel's fixed width; in memory they are trimmed.
type Strings []string

func (a Strings) DType() DType                    { return DTypeString }
func (a Strings) Len() int                        { return len(a) }
func (a Strings) Slice(i, j int) Array            { return a[i:j] }
func (a Strings) At(i int) any                    { return a[i] }
func (a Strings) Float64At(i int) (float64, bool) { return 0, false }

func (a Strings) Filter(keep []bool) Array {
	out := make(Strings, 0, len(a))
	for i, v := range a {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

func (a Strings) Take(idx []int) Array {
	out := make(Strings, len(idx))
	for i, j := range idx {
		out[i] = a[j]
	}
	return out
}

func (a Strings) Append(other Array) (Array, error) {
	b, ok := other.(Strings)
	if !ok {
		return nil, appendMismatch(a, other)
	}
	return append(a[:len(a):len(a)], b...), nil
}
