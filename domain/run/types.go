package run

import (
	"crypto/sha256"
	"fmt"

	"sigfit/domain/core"
)

// CodeVersion is recorded in every manifest so results can be traced to a build.
var CodeVersion = "dev"

// RunFingerprint identifies the inputs of a fit: two runs with the same
// fingerprint fit identical histograms under identical settings.
type RunFingerprint struct {
	InputHash   core.Hash `json:"input_hash"`
	ConfigHash  core.Hash `json:"config_hash"`
	CodeVersion string    `json:"code_version"`
	Fingerprint core.Hash `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from the determinism parameters
func NewRunFingerprint(inputHash, configHash core.Hash, codeVersion string) RunFingerprint {
	return RunFingerprint{
		InputHash:   inputHash,
		ConfigHash:  configHash,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(inputHash, configHash, codeVersion),
	}
}

func computeRunFingerprint(inputHash, configHash core.Hash, codeVersion string) core.Hash {
	data := fmt.Sprintf("inputs:%s|config:%s|code:%s", inputHash, configHash, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
