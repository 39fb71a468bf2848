package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sigfit/adapters/jsonstore"
	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/domain/result"
	"sigfit/domain/run"
	"sigfit/internal"
	"sigfit/internal/config"
	"sigfit/internal/errors"
	"sigfit/internal/report"
	"sigfit/internal/testkit"
	"sigfit/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Fit.ScanPoints = 5
	cfg.Fit.Workers = 2
	return cfg
}

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveRun(ctx context.Context, rec ports.FitRunRecord, res *result.FitResult) error {
	return m.Called(ctx, rec, res).Error(0)
}

func (m *mockRepository) GetRun(ctx context.Context, id core.RunID) (*ports.FitRunRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*ports.FitRunRecord)
	return rec, args.Error(1)
}

func (m *mockRepository) ListRuns(ctx context.Context, limit int) ([]ports.FitRunRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]ports.FitRunRecord)
	return recs, args.Error(1)
}

func TestFitService_AsimovToyRecoversSignalStrength(t *testing.T) {
	cfg := testConfig(t)
	toy := testkit.MustToy(testkit.DefaultToySpec())
	repo := &mockRepository{}
	repo.On("SaveRun", mock.Anything, mock.MatchedBy(func(rec ports.FitRunRecord) bool {
		return rec.RunID == "asimov" && rec.Variable == "m_vis"
	}), mock.AnythingOfType("*result.FitResult")).Return(nil).Once()

	out, err := NewFitService(cfg, repo, internal.NopLogger()).Run(context.Background(), FitRequest{Store: toy.Store(), RunID: "asimov"})
	require.NoError(t, err)

	assert.Equal(t, core.RunID("asimov"), out.Result.RunID)
	assert.InDelta(t, 1.0, out.Result.BestFit, 1e-2)
	assert.Less(t, out.Result.Interval.Lower.Value, out.Result.BestFit)
	assert.Greater(t, out.Result.Interval.Upper.Value, out.Result.BestFit)
	assert.Len(t, out.Result.Scan, 5)

	// the estimate reproduces the multijet template the toy data was built from
	require.NotNil(t, out.QCD)
	want := toy.TrueQCD.Contents()
	for i, v := range out.QCD.Template.Contents() {
		assert.InDelta(t, want[i], v, 1e-9)
	}

	for _, name := range []string{run.ManifestFile, FitInputsJSON, FitInputsWorkbook, report.SummaryFile, report.ScanFile, report.MarkdownFile, report.HTMLFile} {
		assert.FileExists(t, filepath.Join(out.Dir, name))
	}
	assert.Equal(t, RunDir(cfg.Output.Dir, "asimov"), out.Dir)

	// the fit-input artifact holds exactly the model inputs under process names
	names, err := jsonstore.NewStore(filepath.Join(out.Dir, FitInputsJSON), internal.NopLogger()).Names(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ZTT", "ZLL", "TT", "W", "QCD", "2022G"}, names)

	assert.Equal(t, out.Summary.InputFingerprint, out.Manifest.Fingerprint.InputHash.String())
	require.NoError(t, out.Manifest.Validate())

	repo.AssertExpectations(t)

	require.Len(t, out.Summary.Yields, 5)
	var total float64
	for _, y := range out.Summary.Yields {
		total += y.Postfit
	}
	assert.InEpsilon(t, out.Summary.DataYield, total, 1e-2)
}

func TestFitService_LedgerFailureKeepsArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.WriteWorkbook = false
	toy := testkit.MustToy(testkit.DefaultToySpec())
	repo := &mockRepository{}
	repo.On("SaveRun", mock.Anything, mock.Anything, mock.Anything).Return(errors.DatabaseError("insert", assert.AnError))

	out, err := NewFitService(cfg, repo, internal.NopLogger()).Run(context.Background(), FitRequest{Store: toy.Store()})
	require.NoError(t, err)
	assert.FileExists(t, out.Paths.Summary)
	assert.NoFileExists(t, filepath.Join(out.Dir, FitInputsWorkbook))
	repo.AssertNumberOfCalls(t, "SaveRun", 1)
}

func TestFitService_MissingHistogram(t *testing.T) {
	cfg := testConfig(t)
	toy := testkit.MustToy(testkit.DefaultToySpec())
	store := toy.Store()
	store.Delete(histogram.Key{Process: "TT", Variable: "m_vis", Region: histogram.ControlRegion})

	_, err := NewFitService(cfg, nil, internal.NopLogger()).Run(context.Background(), FitRequest{Store: store})
	require.Error(t, err)
	assert.True(t, core.IsNotFoundError(err))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	assert.Equal(t, 3, errors.ExitCode(err))
	assert.Contains(t, err.Error(), "TT_m_vis_cr")
}

func TestFitService_FingerprintIsOrderIndependent(t *testing.T) {
	toy := testkit.MustToy(testkit.DefaultToySpec())
	a := Fingerprint(toy.Named())

	b := make(map[string]histogram.Histogram)
	for name, h := range toy.Named() {
		b[name] = h
	}
	assert.Equal(t, a, Fingerprint(b))

	b["ZTT_m_vis"] = b["ZTT_m_vis"].Scale(1.01)
	assert.NotEqual(t, a, Fingerprint(b))
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	toy := testkit.MustToy(testkit.DefaultToySpec())
	path := filepath.Join(dir, "hists.json")
	require.NoError(t, jsonstore.Writer{}.WriteHistograms(context.Background(), path, toy.Named()))

	store, err := OpenStore(path, internal.NopLogger())
	require.NoError(t, err)
	h, err := store.Get(context.Background(), histogram.Key{Process: "ZTT", Variable: "m_vis"})
	require.NoError(t, err)
	assert.Equal(t, 15, h.NBins())

	_, err = OpenStore(filepath.Join(dir, "missing.json"), internal.NopLogger())
	assert.Equal(t, errors.CodeIOError, errors.GetCode(err))

	other := filepath.Join(dir, "hists.root")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	_, err = OpenStore(other, internal.NopLogger())
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
