package timingbloom

import "github.com/pkg/errors"

// ParameterError reports an invalid construction argument: non-positive
// capacity or decay_time, an error rate outside (0, 1), a growth factor
// that would not grow the filter, or a fill/tightening ratio outside
// (0, 1).
type ParameterError struct {
	msg string
}

func (e *ParameterError) Error() string { return e.msg }

func paramErrorf(format string, args ...interface{}) error {
	return &ParameterError{msg: errors.Errorf(format, args...).Error()}
}

// StateError reports a Start/Stop call made against a filter already in
// that state: Stop on a filter that was never started, or Start on one
// already started.
type StateError struct {
	msg string
}

func (e *StateError) Error() string { return e.msg }

func stateErrorf(format string, args ...interface{}) error {
	return &StateError{msg: errors.Errorf(format, args...).Error()}
}
