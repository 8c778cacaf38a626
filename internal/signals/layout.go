package signals

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/roisep/internal/roierr"
)

// Kind distinguishes the two accepted input layouts.
type Kind int

const (
	// SingleROI is a rank-2 (time, subregion) array holding one ROI.
	SingleROI Kind = iota + 1
	// MultiROI is a rank-3 (time, subregion, roi) array.
	MultiROI
)

func (k Kind) String() string {
	switch k {
	case SingleROI:
		return "single-roi"
	case MultiROI:
		return "multi-roi"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Input is a signal array whose layout has been resolved. It is read-only
// and safe for concurrent use.
type Input struct {
	Kind       Kind
	Samples    int
	Subregions int
	ROIs       int

	arr *Array
}

// Resolve determines the layout of a loaded signal array. Rank 2 means one
// ROI, rank 3 means dims[2] ROIs (possibly zero); any other rank is an input
// format error.
func Resolve(a *Array) (*Input, error) {
	if a == nil {
		return nil, &roierr.InputFormatError{Msg: "no signal array"}
	}
	d := a.dims
	var in *Input
	switch len(d) {
	case 2:
		in = &Input{Kind: SingleROI, Samples: d[0], Subregions: d[1], ROIs: 1, arr: a}
	case 3:
		in = &Input{Kind: MultiROI, Samples: d[0], Subregions: d[1], ROIs: d[2], arr: a}
	default:
		return nil, &roierr.InputFormatError{
			Msg: fmt.Sprintf("signal array has rank %d with dims %v, want (time, subregion) or (time, subregion, roi)", len(d), d),
		}
	}
	if in.ROIs > 0 && (in.Samples == 0 || in.Subregions == 0) {
		return nil, &roierr.InputFormatError{
			Msg: fmt.Sprintf("signal array dims %v leave no samples or subregions to separate", d),
		}
	}
	return in, nil
}

// Array returns the underlying signal array.
func (in *Input) Array() *Array { return in.arr }

// blockLen is the number of elements in one ROI's (time, subregion) block.
func (in *Input) blockLen() int { return in.Samples * in.Subregions }

func (in *Input) checkROI(roi int) error {
	if roi < 0 || roi >= in.ROIs {
		return fmt.Errorf("roi %d out of range [0, %d)", roi, in.ROIs)
	}
	return nil
}

// ROISlice returns a fresh (subregion, time) matrix for roi: the transpose
// of the whole array for SingleROI, of A[:, :, roi] for MultiROI.
func (in *Input) ROISlice(roi int) (*mat.Dense, error) {
	if err := in.checkROI(roi); err != nil {
		return nil, err
	}
	n := in.blockLen()
	var block []float64
	switch in.Kind {
	case SingleROI:
		block = in.arr.data
	case MultiROI:
		block = in.arr.data[roi*n : (roi+1)*n]
	default:
		return nil, fmt.Errorf("unresolved layout %v", in.Kind)
	}
	// Column-major (time, subregion) read row-major is (subregion, time).
	return mat.NewDense(in.Subregions, in.Samples, append([]float64(nil), block...)), nil
}
