package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigfit/adapters/excel"
	"sigfit/adapters/jsonstore"
	"sigfit/domain/core"
	"sigfit/domain/histogram"
	"sigfit/domain/result"
	"sigfit/domain/run"
	"sigfit/internal"
	"sigfit/internal/config"
	"sigfit/internal/errors"
	"sigfit/internal/fit"
	"sigfit/internal/likelihood"
	"sigfit/internal/modelbuilder"
	"sigfit/internal/qcd"
	"sigfit/internal/report"
	"sigfit/ports"

	"gopkg.in/yaml.v3"
)

// Fit-input artifact names inside a run directory.
const (
	FitInputsJSON     = "fit_inputs.json"
	FitInputsWorkbook = "fit_inputs.xlsx"
)

// FitService runs the pipeline store → data-driven estimate → model → fit → report.
type FitService struct {
	cfg    *config.Config
	repo   ports.ResultRepository
	logger *internal.Logger
}

// FitRequest parameterizes one run. A nil Store opens cfg.Input.Path.
type FitRequest struct {
	Store ports.HistogramStore
	RunID core.RunID
}

// FitOutcome is everything a run produced.
type FitOutcome struct {
	RunID    core.RunID
	Dir      string
	Result   *result.FitResult
	Summary  *report.Summary
	Paths    *report.Paths
	Manifest *run.Manifest
	QCD      *qcd.Estimate
}

// NewFitService creates a fit service. repo may be nil to skip the ledger.
func NewFitService(cfg *config.Config, repo ports.ResultRepository, logger *internal.Logger) *FitService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &FitService{cfg: cfg, repo: repo, logger: logger}
}

// OpenStore picks the histogram store for path by its extension.
func OpenStore(path string, logger *internal.Logger) (ports.HistogramStore, error) {
	if path == "" {
		return nil, errors.InvalidInput("no input artifact configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.IOError(fmt.Sprintf("input artifact %s", path), err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return jsonstore.NewStore(path, logger), nil
	case ".xlsx", ".csv":
		return excel.NewStore(excel.DefaultConfig(path), logger), nil
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported input artifact %s: want .json, .xlsx or .csv", path))
	}
}

// RunDir is the directory holding every artifact of one run.
func RunDir(outputDir string, id core.RunID) string {
	return run.Dir(outputDir, id)
}

func (s *FitService) store(req FitRequest) (ports.HistogramStore, error) {
	if req.Store != nil {
		return req.Store, nil
	}
	return OpenStore(s.cfg.Input.Path, s.logger)
}

// EstimateQCD runs only the data-driven estimator.
func (s *FitService) EstimateQCD(ctx context.Context, store ports.HistogramStore) (*qcd.Estimate, error) {
	opts := qcd.Options{
		Variable:      s.cfg.Input.Variable,
		DataProcess:   s.cfg.Processes.Data,
		Subtract:      s.cfg.SubtractList(),
		ControlRegion: histogram.Region(s.cfg.Input.ControlRegion),
		ScaleFactor:   s.cfg.Processes.QCDScaleFactor,
	}
	return qcd.NewEstimator(store, opts, s.logger).Estimate(ctx)
}

// Run executes the whole pipeline and writes the run directory.
func (s *FitService) Run(ctx context.Context, req FitRequest) (*FitOutcome, error) {
	start := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}
	logger := s.logger.With("run_id", runID.String())
	out := &FitOutcome{RunID: runID, Dir: RunDir(s.cfg.Output.Dir, runID)}

	store, err := s.store(req)
	if err != nil {
		return nil, err
	}

	logger.Info("stage 1/4: loading templates for %s", s.cfg.Input.Variable)
	templates, data, err := s.loadSignalRegion(ctx, store)
	if err != nil {
		return nil, err
	}

	if dd := s.cfg.Processes.DataDriven; dd != "" {
		logger.Info("stage 2/4: estimating %s from the %s region", dd, s.cfg.Input.ControlRegion)
		est, err := s.EstimateQCD(ctx, store)
		if err != nil {
			return nil, errors.Wrapf(err, "estimate %s", dd)
		}
		templates[dd] = est.Template
		out.QCD = est
	}

	inputs := make(map[string]histogram.Histogram, len(templates)+1)
	for name, h := range templates {
		inputs[name] = h
	}
	inputs[s.cfg.Processes.Data] = data
	fingerprint := Fingerprint(inputs)
	configHash, err := s.configHash()
	if err != nil {
		return nil, err
	}
	out.Manifest = run.NewManifest(runID, s.cfg.Input.Path, s.cfg.Input.Variable, s.cfg.Processes.Data,
		s.cfg.AllModelProcesses(), fingerprint, configHash)
	if err := s.writeInputs(ctx, out, inputs); err != nil {
		return nil, err
	}

	logger.Info("stage 3/4: building the model")
	builder := modelbuilder.NewBuilder(modelbuilder.OptionsFromConfig(s.cfg), logger)
	measurement, err := builder.Build(modelbuilder.Inputs{Data: data, DataName: s.cfg.Processes.Data, Templates: templates})
	if err != nil {
		return nil, err
	}
	m, err := likelihood.Compile(measurement)
	if err != nil {
		return nil, err
	}

	logger.Info("stage 4/4: fitting %d parameters to %d bins", len(m.Parameters()), m.NBins())
	res, err := fit.NewEngine(fit.OptionsFromConfig(s.cfg.Fit), logger).Fit(ctx, m)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	out.Result = res

	yields := report.BuildYields(m.SampleYields(m.Init()), m.SampleYields(bestFitVector(m, res)))
	out.Summary = report.NewSummary(res, s.cfg.Input.Variable, fingerprint, yields, m.Data())
	out.Paths, err = report.NewReporter(logger).Write(out.Dir, out.Summary)
	if err != nil {
		return nil, err
	}

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, out.Summary.Record(), res); err != nil {
			logger.Error("failed to record run in the ledger: %v", err)
		} else {
			logger.Info("recorded run in the ledger")
		}
	}

	logger.Info("run finished in %s", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (s *FitService) loadSignalRegion(ctx context.Context, store ports.HistogramStore) (map[string]histogram.Histogram, histogram.Histogram, error) {
	variable := s.cfg.Input.Variable
	templates := make(map[string]histogram.Histogram)
	for _, p := range s.cfg.SimulatedProcesses() {
		h, err := store.Get(ctx, histogram.Key{Process: p, Variable: variable})
		if err != nil {
			return nil, histogram.Histogram{}, errors.Wrapf(err, "load %s template", p)
		}
		templates[p] = h
	}
	data, err := store.Get(ctx, histogram.Key{Process: s.cfg.Processes.Data, Variable: variable})
	if err != nil {
		return nil, histogram.Histogram{}, errors.Wrap(err, "load observed data")
	}
	return templates, data, nil
}

// writeInputs persists the manifest and the exact histograms handed to the
// model builder.
func (s *FitService) writeInputs(ctx context.Context, out *FitOutcome, inputs map[string]histogram.Histogram) error {
	if err := os.MkdirAll(out.Dir, 0o755); err != nil {
		return errors.IOError("create run directory", err)
	}
	manifest, err := json.MarshalIndent(out.Manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(out.Dir, run.ManifestFile), append(manifest, '\n'), 0o644); err != nil {
		return errors.IOError("write manifest", err)
	}

	if err := (jsonstore.Writer{}).WriteHistograms(ctx, filepath.Join(out.Dir, FitInputsJSON), inputs); err != nil {
		return errors.IOError("write "+FitInputsJSON, err)
	}
	if s.cfg.Output.WriteWorkbook {
		if err := (excel.Writer{}).WriteHistograms(ctx, filepath.Join(out.Dir, FitInputsWorkbook), inputs); err != nil {
			return errors.IOError("write "+FitInputsWorkbook, err)
		}
	}
	return nil
}

// configHash fingerprints the settings that change the fit, leaving out paths
// and connection details.
func (s *FitService) configHash() (core.Hash, error) {
	relevant := struct {
		Variable      string                   `yaml:"variable"`
		ControlRegion string                   `yaml:"control_region"`
		Processes     config.ProcessConfig     `yaml:"processes"`
		Uncertainties config.UncertaintyConfig `yaml:"uncertainties"`
		Fit           config.FitConfig         `yaml:"fit"`
	}{s.cfg.Input.Variable, s.cfg.Input.ControlRegion, s.cfg.Processes, s.cfg.Uncertainties, s.cfg.Fit}
	data, err := yaml.Marshal(relevant)
	if err != nil {
		return "", errors.Wrap(err, "encode configuration")
	}
	return core.NewHash(data), nil
}

// Fingerprint hashes edges, contents and errors of every named histogram.
func Fingerprint(hists map[string]histogram.Histogram) core.Hash {
	series := make(map[string][]float64, 3*len(hists))
	for name, h := range hists {
		series[name+".edges"] = h.Edges()
		series[name+".contents"] = h.Contents()
		series[name+".errors"] = h.Errors()
	}
	return core.ComputeSeriesHash(series)
}

func bestFitVector(m *likelihood.Model, res *result.FitResult) []float64 {
	x := m.Init()
	for _, p := range res.Parameters {
		if i, ok := m.Index(p.Name); ok {
			x[i] = p.Value
		}
	}
	return x
}
