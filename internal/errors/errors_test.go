package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"sigfit/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestCodeFor_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"nil", nil, "", 0},
		{"not found", core.NewNotFoundError("W", "m_vis", "cr", "W_m_vis_cr"), CodeNotFound, 3},
		{"binning", core.NewBinningError("channel", "edges differ"), CodeModelError, 4},
		{"convergence", &core.FitConvergenceError{Stage: "global"}, CodeFitConvergence, 5},
		{"config", ConfigInvalid("confidence level out of range"), CodeConfigInvalid, 2},
		{"plain", stderrors.New("boom"), CodeInternalError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.Equal(t, tt.exit, ExitCode(tt.err))
		})
	}
}

func TestWrap_KeepsCodeAndChain(t *testing.T) {
	nf := core.NewNotFoundError("TT", "m_vis", "", "TT_m_vis")
	wrapped := Wrapf(fmt.Errorf("estimator: %w", nf), "run %s failed", "r1")

	assert.Equal(t, CodeNotFound, GetCode(wrapped))
	assert.True(t, core.IsNotFoundError(wrapped))
	assert.Contains(t, wrapped.Error(), "run r1 failed")
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestWithCode_Overrides(t *testing.T) {
	err := WithCode(CodeIOError, stderrors.New("disk full"))
	assert.Equal(t, CodeIOError, GetCode(err))
	assert.True(t, IsAppError(err))

	again := WithCode(CodeDatabaseError, err)
	assert.Equal(t, CodeDatabaseError, GetCode(again))
}
