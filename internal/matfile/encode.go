package matfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/banshee-data/roisep/internal/signals"
)

// Variable is a named array to encode.
type Variable struct {
	Name  string
	Array *signals.Array
}

// EncodeOptions controls Encode.
type EncodeOptions struct {
	// Compress wraps each variable in a zlib-compressed element (MAT v7).
	Compress bool
	// Created is stamped into the header text; zero means now.
	Created time.Time
	// Producer names the writing program in the header text.
	Producer string
}

// writeOrder is the byte order Encode emits.
var writeOrder = binary.LittleEndian

// Encode writes vars as double arrays in a little-endian Level 5 MAT-file.
func Encode(w io.Writer, opts EncodeOptions, vars ...Variable) error {
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if err := validName(v.Name); err != nil {
			return err
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true
		if v.Array == nil {
			return fmt.Errorf("variable %q has no array", v.Name)
		}
	}

	if _, err := w.Write(header(opts)); err != nil {
		return err
	}
	for _, v := range vars {
		elem := matrixElement(v)
		if opts.Compress {
			var err error
			if elem, err = compressElement(elem); err != nil {
				return fmt.Errorf("compress %q: %w", v.Name, err)
			}
		}
		if _, err := w.Write(elem); err != nil {
			return err
		}
	}
	return nil
}

func validName(name string) error {
	if name == "" {
		return errors.New("variable name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("variable name %q longer than %d characters", name, maxNameLen)
	}
	for i, r := range name {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !letter {
			return fmt.Errorf("variable name %q must start with a letter", name)
		}
		if !letter && r != '_' && (r < '0' || r > '9') {
			return fmt.Errorf("variable name %q has invalid character %q", name, r)
		}
	}
	return nil
}

func header(opts EncodeOptions) []byte {
	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}
	producer := opts.Producer
	if producer == "" {
		producer = "roisep"
	}
	text := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: %s, Created on: %s", producer, created.UTC().Format("Mon Jan _2 15:04:05 2006"))
	if len(text) > headerTextLen {
		text = text[:headerTextLen]
	}

	h := make([]byte, headerLen)
	copy(h, text+strings.Repeat(" ", headerTextLen-len(text)))
	// bytes 116..124: subsystem data offset, left zero
	writeOrder.PutUint16(h[124:], version5)
	copy(h[126:], "IM")
	return h
}

func matrixElement(v Variable) []byte {
	dims := v.Array.Dims()
	for len(dims) < 2 {
		dims = append(dims, 1)
	}
	if v.Array.Len() == 0 && len(v.Array.Dims()) == 0 {
		dims = []int{0, 0}
	}

	var body bytes.Buffer
	flags := make([]byte, 8)
	writeOrder.PutUint32(flags, mxDOUBLE)
	writeElement(&body, miUINT32, flags)

	rawDims := make([]byte, 4*len(dims))
	for i, d := range dims {
		writeOrder.PutUint32(rawDims[4*i:], uint32(int32(d)))
	}
	writeElement(&body, miINT32, rawDims)
	writeElement(&body, miINT8, []byte(v.Name))

	data := v.Array.Data()
	re := make([]byte, 8*len(data))
	for i, x := range data {
		writeOrder.PutUint64(re[8*i:], math.Float64bits(x))
	}
	writeElement(&body, miDOUBLE, re)

	var out bytes.Buffer
	writeElement(&out, miMATRIX, body.Bytes())
	return out.Bytes()
}

// writeElement writes a tagged element padded to 8 bytes.
func writeElement(buf *bytes.Buffer, typ uint32, data []byte) {
	var tag [8]byte
	writeOrder.PutUint32(tag[0:], typ)
	writeOrder.PutUint32(tag[4:], uint32(len(data)))
	buf.Write(tag[:])
	buf.Write(data)
	if pad := pad8(len(data)) - len(data); pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

func compressElement(elem []byte) ([]byte, error) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(elem); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+z.Len())
	writeOrder.PutUint32(out[0:], miCOMPRESSED)
	writeOrder.PutUint32(out[4:], uint32(z.Len()))
	return append(out, z.Bytes()...), nil
}
