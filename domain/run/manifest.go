package run

import (
	"fmt"
	"path/filepath"
	"time"

	"sigfit/domain/core"
)

// RunsDir is the directory below the output root holding one directory per run.
const RunsDir = "runs"

// ManifestFile is the manifest's name inside a run directory.
const ManifestFile = "manifest.json"

// Dir is the directory holding every artifact of run id below outputDir.
func Dir(outputDir string, id core.RunID) string {
	return filepath.Join(outputDir, RunsDir, id.String())
}

// Manifest records what a run consumed. It is written before the fit starts so
// that a failed run still leaves its inputs traceable.
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	InputPath   string         `json:"input_path"`
	Variable    string         `json:"variable"`
	Processes   []string       `json:"processes"`
	DataProcess string         `json:"data_process"`
	Files       []string       `json:"files"`
	Fingerprint RunFingerprint `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewManifest creates a manifest for one fit.
func NewManifest(runID core.RunID, inputPath, variable, dataProcess string, processes []string, inputHash, configHash core.Hash) *Manifest {
	return &Manifest{
		RunID:       runID,
		InputPath:   inputPath,
		Variable:    variable,
		Processes:   append([]string(nil), processes...),
		DataProcess: dataProcess,
		Fingerprint: NewRunFingerprint(inputHash, configHash, CodeVersion),
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return fmt.Errorf("run manifest: run_id cannot be empty")
	}
	if m.Variable == "" {
		return fmt.Errorf("run manifest: variable cannot be empty")
	}
	if len(m.Processes) == 0 {
		return fmt.Errorf("run manifest: no processes recorded")
	}
	if m.Fingerprint.InputHash.IsEmpty() {
		return fmt.Errorf("run manifest: input hash cannot be empty")
	}
	if m.Fingerprint.ConfigHash.IsEmpty() {
		return fmt.Errorf("run manifest: config hash cannot be empty")
	}
	return nil
}
