package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/matfile"
	"github.com/banshee-data/roisep/internal/monitoring"
	"github.com/banshee-data/roisep/internal/separation"
	"github.com/banshee-data/roisep/internal/signals"
	"github.com/banshee-data/roisep/internal/version"
)

// Container variable names.
const (
	InputKey     = "extractedSignals"
	SeparatedKey = "separatedSignals"
	MatchedKey   = "matchedSignals"
)

// Runner loads an extracted-signal file, separates every ROI and persists
// the two output arrays.
type Runner struct {
	FS        fsutil.FileSystem
	Separator separation.Separator
	// InputKey names the input variable; empty means InputKey.
	InputKey string
	Options  Options
	// Compress writes zlib-compressed output elements.
	Compress bool
}

// Run executes load, resolve, separate and persist. The output file is only
// written once every ROI has been processed; a fatal error leaves outPath
// untouched. A best-effort run with failed ROIs still writes its partial
// output and reports the failures through Outcome.Failed.
//
// The Outcome is returned alongside a persist error so callers can still
// record what was computed.
func (r *Runner) Run(ctx context.Context, inPath, outPath string) (*Outcome, error) {
	if r.Separator == nil {
		return nil, errors.New("pipeline: runner has no separator")
	}
	fsys := r.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	key := r.InputKey
	if key == "" {
		key = InputKey
	}

	start := time.Now()
	arr, err := matfile.LoadArray(fsys, inPath, key)
	if err != nil {
		return nil, err
	}
	in, err := signals.Resolve(arr)
	if err != nil {
		return nil, err
	}
	monitoring.Diagf("loaded %s: %s, %d samples x %d subregions x %d rois",
		inPath, in.Kind, in.Samples, in.Subregions, in.ROIs)

	oc, err := Separate(ctx, in, r.Separator, r.Options)
	if err != nil {
		return nil, err
	}

	err = matfile.SaveArrays(fsys, outPath,
		matfile.EncodeOptions{Compress: r.Compress, Producer: "roisep " + version.Version},
		matfile.Variable{Name: SeparatedKey, Array: oc.Output.Separated},
		matfile.Variable{Name: MatchedKey, Array: oc.Output.Matched},
	)
	if err != nil {
		return oc, err
	}
	monitoring.Diagf("wrote %s (%d rois, %d failed) in %s",
		outPath, in.ROIs, len(oc.Failed), time.Since(start).Round(time.Millisecond))
	return oc, nil
}
