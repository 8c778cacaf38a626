// Package matfile reads and writes MATLAB Level 5 MAT-files, the container
// the upstream ROI extraction step produces and downstream analysis consumes.
//
// Only what the separation run needs is supported: real numeric arrays of
// any storage type are decoded to float64, compressed (miCOMPRESSED) and
// uncompressed elements are both read, and both byte orders are accepted.
// Other classes (cell, struct, char, sparse, complex) are recognised and
// skipped so that a lookup can report them precisely. HDF5-based v7.3 files
// are rejected.
//
// Arrays are exchanged as signals.Array values, which share the MAT-file's
// column-major element order.
package matfile

import "fmt"

// Data types (miXXX) from the Level 5 format.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
)

// Array classes (mxXXX_CLASS).
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxOBJECT = 3
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const (
	headerLen     = 128
	headerTextLen = 116
	version5      = 0x0100
	flagComplex   = 0x0800
	maxNameLen    = 63
)

// Class is a MAT array class.
type Class uint8

func (c Class) String() string {
	switch c {
	case mxCELL:
		return "cell"
	case mxSTRUCT:
		return "struct"
	case mxOBJECT:
		return "object"
	case mxCHAR:
		return "char"
	case mxSPARSE:
		return "sparse"
	case mxDOUBLE:
		return "double"
	case mxSINGLE:
		return "single"
	case mxINT8:
		return "int8"
	case mxUINT8:
		return "uint8"
	case mxINT16:
		return "int16"
	case mxUINT16:
		return "uint16"
	case mxINT32:
		return "int32"
	case mxUINT32:
		return "uint32"
	case mxINT64:
		return "int64"
	case mxUINT64:
		return "uint64"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Numeric reports whether c holds plain numbers.
func (c Class) Numeric() bool { return c >= mxDOUBLE && c <= mxUINT64 }

// pad8 rounds n up to the next multiple of 8.
func pad8(n int) int { return (n + 7) &^ 7 }
