// Package fault holds the two error classes a protocol run can end with.
//
// A ConfigError is found while planning, before anything touches the robot,
// and always blocks the whole protocol.  A HardwareError comes back from the
// execution service mid-run; the run stops there and is never retried, since
// a pipetting robot cannot resume a dispense without risking a double
// dispense or cross-contamination.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfTips is returned by a handler that has no clean tip to pick up
	ErrOutOfTips = errors.New("out of tips")

	// ErrLabwareMissing is returned when a referenced labware is not on the deck
	ErrLabwareMissing = errors.New("labware missing")

	// ErrVolumeRange is returned when the service rejects a volume for the pipette
	ErrVolumeRange = errors.New("volume out of range")
)

// ConfigError is a planning-time error naming the offending parameter
type ConfigError struct {
	// Param is the name of the parameter, e.g. "steps[3].factor"
	Param string

	// Value is the offending value
	Value interface{}

	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s=%v: %v", e.Param, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config wraps err as a ConfigError
func Config(param string, value interface{}, err error) error {
	return &ConfigError{Param: param, Value: value, Err: err}
}

// IsConfig is true if any error in the chain is a ConfigError
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// HardwareError is an execution-time error from the liquid handling service
type HardwareError struct {
	// Step is the zero-based index of the operation that failed
	Step int

	// Op describes the failed operation
	Op string

	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware error at step %d (%s): %v", e.Step, e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// IsHardware is true if any error in the chain is a HardwareError
func IsHardware(err error) bool {
	var he *HardwareError
	return errors.As(err, &he)
}
