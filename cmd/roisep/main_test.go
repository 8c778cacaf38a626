package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/matfile"
	"github.com/banshee-data/roisep/internal/runlog"
	"github.com/banshee-data/roisep/internal/signals"
	"github.com/banshee-data/roisep/internal/testutil"
)

// fastConfig keeps separator runs short.
const fastConfig = `{"max_iterations": 200, "max_tries": 2}`

type fixture struct {
	dir    string
	in     string
	out    string
	config string
}

func newFixture(t *testing.T, key string, a *signals.Array) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		in:     filepath.Join(dir, "in.mat"),
		out:    filepath.Join(dir, "out.mat"),
		config: filepath.Join(dir, "fast.json"),
	}
	require.NoError(t, matfile.SaveArrays(fsutil.OSFileSystem{}, f.in, matfile.EncodeOptions{},
		matfile.Variable{Name: key, Array: a}))
	require.NoError(t, os.WriteFile(f.config, []byte(fastConfig), 0644))
	return f
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, "extractedSignals", testutil.SignalArray(t, 100, 2, 3))

	code, stdout, stderr := runCLI(t, "-config", f.config, f.in, f.out)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "Separated signals saved to "+f.out+"\n", stdout)

	data, err := os.ReadFile(f.out)
	require.NoError(t, err)
	mf, err := matfile.Decode(data)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"separatedSignals", "matchedSignals"}, mf.Names())
	sep, err := mf.Array("separatedSignals")
	require.NoError(t, err)
	assert.Equal(t, []int{100, 2, 3}, sep.Dims())
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	f := newFixture(t, "extractedSignals", testutil.SignalArray(t, 60, 2, 4))
	par := filepath.Join(f.dir, "par.mat")

	code, _, stderr := runCLI(t, "-config", f.config, "-compress=false", f.in, f.out)
	require.Equal(t, exitOK, code, stderr)
	code, _, stderr = runCLI(t, "-config", f.config, "-compress=false", "-workers", "4", f.in, par)
	require.Equal(t, exitOK, code, stderr)

	a, err := matfile.LoadArray(fsutil.OSFileSystem{}, f.out, "matchedSignals")
	require.NoError(t, err)
	b, err := matfile.LoadArray(fsutil.OSFileSystem{}, par, "matchedSignals")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"one arg", []string{"in.mat"}},
		{"three args", []string{"a", "b", "c"}},
		{"unknown flag", []string{"-nope", "a", "b"}},
		{"bad workers", []string{"-workers", "0", "a", "b"}},
		{"missing config", []string{"-config", "/does/not/exist.json", "a", "b"}},
		{"negative timeout", []string{"-roi-timeout", "-1s", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Empty(t, stdout)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "-version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "roisep dev")
}

func TestRunInputErrors(t *testing.T) {
	f := newFixture(t, "otherName", testutil.SignalArray(t, 20, 2, 1))

	code, stdout, stderr := runCLI(t, "-config", f.config, filepath.Join(f.dir, "missing.mat"), f.out)
	assert.Equal(t, exitIO, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error: IOError: ")

	code, _, stderr = runCLI(t, "-config", f.config, f.in, f.out)
	assert.Equal(t, exitInputFormat, code)
	assert.Contains(t, stderr, "Error: InputFormatError: ")
	assert.Contains(t, stderr, "extractedSignals")

	// the variable can be selected by name
	code, _, stderr = runCLI(t, "-config", f.config, "-key", "otherName", f.in, f.out)
	assert.Equal(t, exitOK, code, stderr)
}

func TestRunSeparationFailure(t *testing.T) {
	a := testutil.SignalArray(t, 30, 2, 3)
	a.Data()[2*30*2] = -5 // ROI 2 holds a negative sample, which NMF rejects
	f := newFixture(t, "extractedSignals", a)

	code, stdout, stderr := runCLI(t, "-config", f.config, f.in, f.out)
	assert.Equal(t, exitSeparation, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error: SeparationError: ")
	assert.Contains(t, stderr, "roi 2")
	_, err := os.Stat(f.out)
	assert.True(t, os.IsNotExist(err), "no output after a fatal error")

	code, stdout, stderr = runCLI(t, "-config", f.config, "-best-effort", f.in, f.out)
	assert.Equal(t, exitPartial, code)
	assert.Contains(t, stdout, "Separated signals saved to")
	assert.Contains(t, stderr, "1 of 3 ROIs failed ([2])")
	_, err = os.Stat(f.out)
	assert.NoError(t, err)
}

func TestRunUnwritableOutput(t *testing.T) {
	f := newFixture(t, "extractedSignals", testutil.SignalArray(t, 30, 2, 1))

	code, _, stderr := runCLI(t, "-config", f.config, f.in, filepath.Join(f.dir, "no", "such", "dir", "out.mat"))
	assert.Equal(t, exitIO, code)
	assert.Contains(t, stderr, "Error: IOError: ")
}

func TestRunLedgerAndReport(t *testing.T) {
	f := newFixture(t, "extractedSignals", testutil.SignalArray(t, 50, 2, 2))
	ledgerPath := filepath.Join(f.dir, "runs.db")
	reportDir := filepath.Join(f.dir, "report")

	code, _, stderr := runCLI(t, "-config", f.config, "-ledger", ledgerPath, "-report", reportDir, f.in, f.out)
	require.Equal(t, exitOK, code, stderr)

	for _, name := range []string{"index.html", "roi_000.png", "roi_001.png"} {
		_, err := os.Stat(filepath.Join(reportDir, name))
		assert.NoError(t, err, name)
	}

	store, err := runlog.Open(ledgerPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusSucceeded, runs[0].Status)
	assert.Equal(t, []int{50, 2, 2}, runs[0].Dims)
	assert.Equal(t, 2, runs[0].ROICount)

	results, err := store.ListROIResults(runs[0].RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Len(t, r.Mixing, 2)
		assert.Positive(t, r.Iterations)
	}
}

func TestRunLedgerRecordsFailure(t *testing.T) {
	f := newFixture(t, "wrongKey", testutil.SignalArray(t, 20, 2, 1))
	ledgerPath := filepath.Join(f.dir, "runs.db")

	code, _, _ := runCLI(t, "-config", f.config, "-ledger", ledgerPath, f.in, f.out)
	assert.Equal(t, exitInputFormat, code)

	store, err := runlog.Open(ledgerPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "wrongKey")
}
