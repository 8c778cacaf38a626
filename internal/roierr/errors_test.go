package roierr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cause := errors.New("did not converge")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"input format", InputFormatf("extractedSignals", "rank %d", 4), KindInputFormat},
		{"separation", &SeparationError{ROI: 2, Err: cause}, KindSeparation},
		{"io", &IOError{Op: "open", Path: "in.mat", Err: fs.ErrNotExist}, KindIO},
		{"wrapped separation", fmt.Errorf("run: %w", &SeparationError{ROI: 0, Err: cause}), KindSeparation},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSeparationErrorChain(t *testing.T) {
	t.Parallel()

	cause := errors.New("negative entries")
	err := fmt.Errorf("separate: %w", &SeparationError{ROI: 2, Err: cause})

	assert.ErrorIs(t, err, ErrSeparation)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrIO)

	roi, ok := FailedROI(err)
	assert.True(t, ok)
	assert.Equal(t, 2, roi)
	assert.Contains(t, err.Error(), "roi 2")
}

func TestIOErrorChain(t *testing.T) {
	t.Parallel()

	err := &IOError{Op: "open", Path: "/missing.mat", Err: fs.ErrNotExist}
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, "io error: open /missing.mat: file does not exist", err.Error())

	_, ok := FailedROI(err)
	assert.False(t, ok)
}

func TestInputFormatErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `input format error: field "x": missing`, InputFormatf("x", "missing").Error())
	assert.Equal(t, "input format error: bad header", (&InputFormatError{Msg: "bad header"}).Error())
}
