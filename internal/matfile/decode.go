package matfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/banshee-data/roisep/internal/roierr"
	"github.com/banshee-data/roisep/internal/signals"
)

// Entry is one top-level variable of a decoded file.
type Entry struct {
	Name    string
	Class   Class
	Dims    []int
	Complex bool
	// Array is set for real numeric entries only.
	Array *signals.Array
}

// File is a decoded MAT-file.
type File struct {
	Header  string
	Order   binary.ByteOrder
	Entries []Entry
}

// Decode parses a Level 5 MAT-file held in data.
func Decode(data []byte) (*File, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("file is %d bytes, shorter than the %d-byte MAT header", len(data), headerLen)
	}
	text := strings.TrimRight(string(data[:headerTextLen]), " \x00")
	if strings.HasPrefix(text, "MATLAB 7.3") {
		return nil, errors.New("MAT v7.3 (HDF5) files are not supported; save with -v7 or -v6")
	}
	if !strings.HasPrefix(text, "MATLAB 5.0 MAT-file") {
		return nil, errors.New("missing Level 5 MAT-file header")
	}

	var order binary.ByteOrder
	switch string(data[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad endian indicator %q", data[126:128])
	}
	if v := order.Uint16(data[124:126]); v != version5 {
		return nil, fmt.Errorf("unsupported MAT version 0x%04x", v)
	}

	f := &File{Header: text, Order: order}
	r := &elementReader{b: data, off: headerLen, order: order}
	for !r.done() {
		typ, body, err := r.next()
		if err != nil {
			return nil, err
		}
		if typ == miCOMPRESSED {
			if typ, body, err = inflate(body, order); err != nil {
				return nil, err
			}
		}
		if typ != miMATRIX {
			// Non-matrix top-level elements carry no variables.
			continue
		}
		e, err := decodeMatrix(body, order)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", len(f.Entries), err)
		}
		f.Entries = append(f.Entries, e)
	}
	return f, nil
}

// Names lists the variable names in file order.
func (f *File) Names() []string {
	names := make([]string, len(f.Entries))
	for i, e := range f.Entries {
		names[i] = e.Name
	}
	return names
}

// Array returns the real numeric array stored under name. A missing name or
// a non-numeric, complex or sparse variable is an InputFormatError.
func (f *File) Array(name string) (*signals.Array, error) {
	for _, e := range f.Entries {
		if e.Name != name {
			continue
		}
		switch {
		case !e.Class.Numeric():
			return nil, roierr.InputFormatf(name, "is a %s array, want a real numeric array", e.Class)
		case e.Complex:
			return nil, roierr.InputFormatf(name, "is complex, want a real numeric array")
		case e.Array == nil:
			return nil, roierr.InputFormatf(name, "has no data")
		}
		return e.Array, nil
	}
	have := f.Names()
	slices.Sort(have)
	return nil, roierr.InputFormatf(name, "not found (file holds %v)", have)
}

type elementReader struct {
	b     []byte
	off   int
	order binary.ByteOrder
}

func (r *elementReader) done() bool { return r.off >= len(r.b) }

// next returns the next element's type and payload, handling the small
// element format and 8-byte padding.
func (r *elementReader) next() (uint32, []byte, error) {
	if len(r.b)-r.off < 8 {
		return 0, nil, fmt.Errorf("truncated element tag at offset %d", r.off)
	}
	first := r.order.Uint32(r.b[r.off:])
	if n := first >> 16; n != 0 {
		if n > 4 {
			return 0, nil, fmt.Errorf("small element at offset %d claims %d bytes", r.off, n)
		}
		body := r.b[r.off+4 : r.off+4+int(n)]
		r.off += 8
		return first & 0xffff, body, nil
	}
	n := int(r.order.Uint32(r.b[r.off+4:]))
	start := r.off + 8
	end := start + n
	if n < 0 || end > len(r.b) {
		return 0, nil, fmt.Errorf("element at offset %d claims %d bytes, %d remain", r.off, n, len(r.b)-start)
	}
	if first == miCOMPRESSED {
		r.off = end
	} else {
		r.off = min(start+pad8(n), len(r.b))
	}
	return first, r.b[start:end], nil
}

func inflate(body []byte, order binary.ByteOrder) (uint32, []byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("compressed element: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return 0, nil, fmt.Errorf("compressed element: %w", err)
	}
	inner := &elementReader{b: raw, order: order}
	typ, payload, err := inner.next()
	if err != nil {
		return 0, nil, fmt.Errorf("compressed element: %w", err)
	}
	return typ, payload, nil
}

func decodeMatrix(body []byte, order binary.ByteOrder) (Entry, error) {
	var e Entry
	r := &elementReader{b: body, order: order}
	if r.done() {
		// An empty miMATRIX is a valid placeholder with no name.
		return e, nil
	}

	typ, flags, err := r.next()
	if err != nil {
		return e, err
	}
	if typ != miUINT32 || len(flags) < 8 {
		return e, fmt.Errorf("array flags: unexpected type %d length %d", typ, len(flags))
	}
	f0 := order.Uint32(flags)
	e.Class = Class(f0 & 0xff)
	e.Complex = f0&flagComplex != 0

	typ, rawDims, err := r.next()
	if err != nil {
		return e, err
	}
	if typ != miINT32 || len(rawDims)%4 != 0 {
		return e, fmt.Errorf("dimensions: unexpected type %d length %d", typ, len(rawDims))
	}
	e.Dims = make([]int, len(rawDims)/4)
	for i := range e.Dims {
		d := int32(order.Uint32(rawDims[4*i:]))
		if d < 0 {
			return e, fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
		e.Dims[i] = int(d)
	}

	typ, name, err := r.next()
	if err != nil {
		return e, err
	}
	if typ != miINT8 && typ != miUTF8 {
		return e, fmt.Errorf("array name: unexpected type %d", typ)
	}
	e.Name = string(name)

	if !e.Class.Numeric() || e.Complex {
		return e, nil
	}
	typ, re, err := r.next()
	if err != nil {
		return e, fmt.Errorf("%s: real part: %w", e.Name, err)
	}
	vals, err := toFloat64(typ, re, order)
	if err != nil {
		return e, fmt.Errorf("%s: real part: %w", e.Name, err)
	}
	arr, err := signals.NewArray(e.Dims, vals)
	if err != nil {
		return e, fmt.Errorf("%s: %w", e.Name, err)
	}
	e.Array = arr
	return e, nil
}

func toFloat64(typ uint32, b []byte, order binary.ByteOrder) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("unsupported numeric storage type %d", typ)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of element size %d", len(b), size)
	}
	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(order.Uint16(p)))
		case miUINT16:
			out[i] = float64(order.Uint16(p))
		case miINT32:
			out[i] = float64(int32(order.Uint32(p)))
		case miUINT32:
			out[i] = float64(order.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(order.Uint64(p))
		case miINT64:
			out[i] = float64(int64(order.Uint64(p)))
		case miUINT64:
			out[i] = float64(order.Uint64(p))
		}
	}
	return out, nil
}
