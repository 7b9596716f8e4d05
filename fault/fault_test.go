package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/op13/liquidplan/fault"
)

func TestConfigErrorNamesParam(t *testing.T) {
	err := fault.Config("steps[2].factor", 0.0, errors.New("must be >= 1"))
	assert.True(t, fault.IsConfig(err))
	assert.False(t, fault.IsHardware(err))
	assert.Contains(t, err.Error(), "steps[2].factor")
}

func TestHardwareErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("run aborted: %w", &fault.HardwareError{Step: 4, Op: "distribute", Err: fault.ErrOutOfTips})
	assert.True(t, fault.IsHardware(err))
	assert.True(t, errors.Is(err, fault.ErrOutOfTips))
}
