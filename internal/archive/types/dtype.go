package types

import "fmt"

// DType identifies the storage type of a channel's values.
type DType int

const (
	// DTypeFloat64 stores IEEE 754 double-precision values.
	DTypeFloat64 DType = iota

	// DTypeFloat32 stores single-precision values.
	DTypeFloat32

	// DTypeInt64 stores signed 64-bit integers.
	DTypeInt64

	// DTypeInt32 stores signed 32-bit integers.
	DTypeInt32

	// DTypeBool stores booleans. Boolean channels aggregate like
	// state-valued channels with the states "F" and "T".
	DTypeBool

	// DTypeString stores fixed-width state codes, NUL-padded on disk.
	DTypeString
)

// String returns the string representation of the dtype.
func (d DType) String() string {
	switch d {
	case DTypeFloat64:
		return "float64"
	case DTypeFloat32:
		return "float32"
	case DTypeInt64:
		return "int64"
	case DTypeInt32:
		return "int32"
	case DTypeBool:
		return "bool"
	case DTypeString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// Code returns the stable on-disk code for this dtype. Codes are part of
// the column file header format and must never be renumbered.
func (d DType) Code() uint8 {
	switch d {
	case DTypeFloat64:
		return 1
	case DTypeFloat32:
		return 2
	case DTypeInt64:
		return 3
	case DTypeInt32:
		return 4
	case DTypeBool:
		return 5
	case DTypeString:
		return 6
	default:
		return 0
	}
}

// DTypeFromCode maps an on-disk code back to a DType.
func DTypeFromCode(code uint8) (DType, error) {
	switch code {
	case 1:
		return DTypeFloat64, nil
	case 2:
		return DTypeFloat32, nil
	case 3:
		return DTypeInt64, nil
	case 4:
		return DTypeInt32, nil
	case 5:
		return DTypeBool, nil
	case 6:
		return DTypeString, nil
	default:
		return DTypeFloat64, fmt.Errorf("unknown dtype code: %d", code)
	}
}

// ItemSize returns the number of bytes one element occupies on disk.
// width is the per-channel string width and is ignored for other dtypes.
func (d DType) ItemSize(width int) int {
	switch d {
	case DTypeFloat64, DTypeInt64:
		return 8
	case DTypeFloat32, DTypeInt32:
		return 4
	case DTypeBool:
		return 1
	case DTypeString:
		return width
	default:
		return 0
	}
}

// IsNumeric returns true for dtypes that aggregate with min/max/mean.
func (d DType) IsNumeric() bool {
	switch d {
	case DTypeFloat64, DTypeFloat32, DTypeInt64, DTypeInt32:
		return true
	default:
		return false
	}
}

// IsState returns true for dtypes that aggregate with per-state counts.
func (d DType) IsState() bool {
	return d == DTypeString || d == DTypeBool
}

// ParseDType parses a string into a DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float64", "f8":
		return DTypeFloat64, nil
	case "float32", "f4":
		return DTypeFloat32, nil
	case "int64", "i8":
		return DTypeInt64, nil
	case "int32", "i4":
		return DTypeInt32, nil
	case "bool":
		return DTypeBool, nil
	case "string":
		return DTypeString, nil
	default:
		return DTypeFloat64, fmt.Errorf("unknown dtype: %s", s)
	}
}

// AllDTypes returns all dtypes in on-disk code order.
func AllDTypes() []DType {
	return []DType{DTypeFloat64, DTypeFloat32, DTypeInt64, DTypeInt32, DTypeBool, DTypeString}
}
