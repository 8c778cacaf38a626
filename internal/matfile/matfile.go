package matfile

import (
	"bytes"
	"time"

	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/roierr"
	"github.com/banshee-data/roisep/internal/signals"
)

// LoadArray reads path and returns the array stored under key. Read and
// container failures are IOErrors; a missing or unusable variable, or one
// whose rank is not 2 or 3, is an InputFormatError.
func LoadArray(fsys fsutil.FileSystem, path, key string) (*signals.Array, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, &roierr.IOError{Op: "read", Path: path, Err: err}
	}
	f, err := Decode(data)
	if err != nil {
		return nil, &roierr.IOError{Op: "decode", Path: path, Err: err}
	}
	arr, err := f.Array(key)
	if err != nil {
		return nil, err
	}
	if r := arr.Rank(); r != 2 && r != 3 {
		return nil, roierr.InputFormatf(key, "has %d dimensions %v, want (time, subregion) or (time, subregion, roi)", r, arr.Dims())
	}
	return arr, nil
}

// SaveArrays encodes vars and atomically replaces path with the result.
func SaveArrays(fsys fsutil.FileSystem, path string, opts EncodeOptions, vars ...Variable) error {
	if opts.Created.IsZero() {
		opts.Created = time.Now()
	}
	var buf bytes.Buffer
	if err := Encode(&buf, opts, vars...); err != nil {
		return &roierr.IOError{Op: "encode", Path: path, Err: err}
	}
	if err := fsutil.ReplaceFile(fsys, path, buf.Bytes(), 0o644); err != nil {
		return &roierr.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
