package separation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/roisep/internal/monitoring"
)

const (
	// epsilon floors multiplicative update denominators (float32 machine eps).
	epsilon = 1.1920929e-07
	// checkEvery is the iteration stride between convergence and context checks.
	checkEvery = 10
)

// Params configures the NMF separator.
type Params struct {
	MaxIterations int
	MaxTries      int
	Tolerance     float64
	Alpha         float64
	L1Ratio       float64
	RandomState   int64
}

// DefaultParams returns the FISSA defaults.
func DefaultParams() Params {
	return Params{
		MaxIterations: 10000,
		MaxTries:      10,
		Tolerance:     1e-4,
		Alpha:         0.1,
		L1Ratio:       0.5,
		RandomState:   892,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", p.MaxIterations)
	}
	if p.MaxTries < 1 {
		return fmt.Errorf("max_tries must be at least 1, got %d", p.MaxTries)
	}
	if p.Tolerance < 0 || math.IsNaN(p.Tolerance) {
		return fmt.Errorf("tolerance must be non-negative, got %g", p.Tolerance)
	}
	if p.Alpha < 0 || math.IsNaN(p.Alpha) {
		return fmt.Errorf("alpha must be non-negative, got %g", p.Alpha)
	}
	if p.L1Ratio < 0 || p.L1Ratio > 1 || math.IsNaN(p.L1Ratio) {
		return fmt.Errorf("l1_ratio must be between 0 and 1, got %g", p.L1Ratio)
	}
	return nil
}

// NMF separates traces with elastic-net regularised non-negative matrix
// factorisation. The traces are normalised by their median, factorised into
// as many components as there are subregions, and scaled back.
//
// NMF holds no mutable state and is safe for concurrent use.
type NMF struct {
	p Params
}

// NewNMF returns an NMF separator.
func NewNMF(p Params) (*NMF, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &NMF{p: p}, nil
}

type fit struct {
	w, h       *mat.Dense
	iterations int
	converged  bool
	seed       int64
	objective  float64
}

// Separate implements Separator. x is (subregion, time) and must be finite
// and non-negative with a positive median.
func (n *NMF) Separate(ctx context.Context, x mat.Matrix) (*Result, error) {
	if x == nil {
		return nil, errors.New("nil input matrix")
	}
	subregions, samples := x.Dims()
	if subregions == 0 || samples == 0 {
		return nil, fmt.Errorf("empty input matrix (%d, %d)", subregions, samples)
	}

	// v is (time, subregion): samples as rows, features as columns.
	var v mat.Dense
	v.CloneFrom(x.T())
	vals := v.RawMatrix().Data
	for i, val := range vals {
		switch {
		case math.IsNaN(val) || math.IsInf(val, 0):
			return nil, fmt.Errorf("non-finite value %g at element %d", val, i)
		case val < 0:
			return nil, fmt.Errorf("negative value %g at element %d; traces must be non-negative", val, i)
		}
	}
	med := median(vals)
	if med <= 0 {
		return nil, fmt.Errorf("median of traces is %g, cannot normalise", med)
	}
	v.Scale(1/med, &v)

	var (
		best  fit
		tries int
	)
	for try := 0; try < n.p.MaxTries; try++ {
		seed := n.p.RandomState + int64(try)
		f, err := n.fit(ctx, &v, subregions, seed)
		if err != nil {
			return nil, err
		}
		best, tries = f, try+1
		if f.converged {
			break
		}
		monitoring.Diagf("nmf: random_state=%d did not converge in %d iterations", seed, f.iterations)
	}

	res := assemble(best, med)
	res.Convergence = Convergence{
		Converged:     best.converged,
		Iterations:    best.iterations,
		MaxIterations: n.p.MaxIterations,
		RandomState:   best.seed,
		Tries:         tries,
		Objective:     best.objective,
	}
	return res, nil
}

func (n *NMF) fit(ctx context.Context, v *mat.Dense, k int, seed int64) (fit, error) {
	w, h := nndsvdar(v, k, seed)
	l1 := n.p.Alpha * n.p.L1Ratio
	l2 := n.p.Alpha * (1 - n.p.L1Ratio)

	initial := objective(v, w, h, l1, l2)
	prev := initial
	var (
		numW, denW, gramH mat.Dense
		numH, denH, gramW mat.Dense
	)
	f := fit{w: w, h: h, seed: seed}
	for f.iterations < n.p.MaxIterations {
		f.iterations++

		numW.Mul(v, h.T())
		gramH.Mul(h, h.T())
		denW.Mul(w, &gramH)
		muStep(w, &numW, &denW, l1, l2)

		numH.Mul(w.T(), v)
		gramW.Mul(w.T(), w)
		denH.Mul(&gramW, h)
		muStep(h, &numH, &denH, l1, l2)

		if f.iterations%checkEvery != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fit{}, fmt.Errorf("nmf stopped after %d iterations: %w", f.iterations, err)
		}
		obj := objective(v, w, h, l1, l2)
		if monitoring.TraceEnabled() {
			monitoring.Tracef("nmf: seed=%d iter=%d objective=%.6g", seed, f.iterations, obj)
		}
		if initial > 0 && (prev-obj)/initial < n.p.Tolerance {
			f.converged = true
			break
		}
		prev = obj
	}
	f.objective = objective(v, w, h, l1, l2)
	return f, nil
}

// muStep applies one multiplicative update m *= num / (den + l1 + l2*m).
func muStep(m, num, den *mat.Dense, l1, l2 float64) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			cur := m.At(i, j)
			d := den.At(i, j) + l1 + l2*cur
			if d < epsilon {
				d = epsilon
			}
			m.Set(i, j, cur*num.At(i, j)/d)
		}
	}
}

func objective(v, w, h *mat.Dense, l1, l2 float64) float64 {
	var resid mat.Dense
	resid.Mul(w, h)
	resid.Sub(v, &resid)
	fro := mat.Norm(&resid, 2)
	nw, nh := mat.Norm(w, 2), mat.Norm(h, 2)
	return 0.5*fro*fro + l1*(mat.Sum(w)+mat.Sum(h)) + 0.5*l2*(nw*nw+nh*nh)
}

// nndsvdar builds a non-negative SVD initialisation for v ≈ w·h and replaces
// exact zeros with small seeded noise so multiplicative updates can move them.
func nndsvdar(v *mat.Dense, k int, seed int64) (*mat.Dense, *mat.Dense) {
	rows, cols := v.Dims()
	w := mat.NewDense(rows, k, nil)
	h := mat.NewDense(k, cols, nil)

	var svd mat.SVD
	if svd.Factorize(v, mat.SVDThin) {
		vals := svd.Values(nil)
		var u, vt mat.Dense
		svd.UTo(&u)
		svd.VTo(&vt)
		for j := 0; j < min(k, len(vals)); j++ {
			x := mat.Col(nil, j, &u)
			y := mat.Col(nil, j, &vt)
			if j == 0 {
				s := math.Sqrt(vals[0])
				for i, xv := range x {
					w.Set(i, 0, s*math.Abs(xv))
				}
				for i, yv := range y {
					h.Set(0, i, s*math.Abs(yv))
				}
				continue
			}
			xp, xn := splitSigns(x)
			yp, yn := splitSigns(y)
			xpn, xnn := floats.Norm(xp, 2), floats.Norm(xn, 2)
			ypn, ynn := floats.Norm(yp, 2), floats.Norm(yn, 2)

			uu, vv, un, vn := xp, yp, xpn, ypn
			sigma := xpn * ypn
			if neg := xnn * ynn; neg > sigma {
				uu, vv, un, vn, sigma = xn, yn, xnn, ynn, neg
			}
			if un == 0 || vn == 0 {
				continue
			}
			lbd := math.Sqrt(vals[j] * sigma)
			for i, uv := range uu {
				w.Set(i, j, lbd*uv/un)
			}
			for i, vvv := range vv {
				h.Set(j, i, lbd*vvv/vn)
			}
		}
	}

	avg := mat.Sum(v) / float64(rows*cols)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15)}
	for _, m := range []*mat.Dense{w, h} {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if m.At(i, j) == 0 {
					m.Set(i, j, math.Abs(avg*noise.Rand()/100))
				}
			}
		}
	}
	return w, h
}

func splitSigns(x []float64) (pos, neg []float64) {
	pos = make([]float64, len(x))
	neg = make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			pos[i] = v
		} else {
			neg[i] = -v
		}
	}
	return pos, neg
}

// assemble converts a fit into (subregion, time) results. Each component is
// rescaled so its mixing column sums to one; matched traces are the
// components ordered by ROI-core weight and scaled by that weight.
func assemble(f fit, med float64) *Result {
	var s, a mat.Dense
	s.CloneFrom(f.w.T()) // (component, time)
	a.CloneFrom(f.h.T()) // (subregion, component)

	k, samples := s.Dims()
	for j := 0; j < k; j++ {
		col := mat.Col(nil, j, &a)
		sum := floats.Sum(col)
		if sum <= 0 {
			continue
		}
		floats.Scale(sum, s.RawRowView(j))
		for i, cv := range col {
			a.Set(i, j, cv/sum)
		}
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(p, q int) bool {
		return a.At(0, order[p]) > a.At(0, order[q])
	})

	matched := mat.NewDense(k, samples, nil)
	for c, j := range order {
		floats.ScaleTo(matched.RawRowView(c), a.At(0, j)*med, s.RawRowView(j))
	}
	s.Scale(med, &s)

	return &Result{Separated: &s, Matched: matched, Mixing: &a}
}

// median matches numpy: the mean of the two middle values for even lengths.
func median(vals []float64) float64 {
	sorted := slices.Sorted(slices.Values(vals))
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
