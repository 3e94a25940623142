package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a conditional update lost to a concurrent
// writer or the row was not in the expected state.
var ErrConflict = errors.New("storage: conflict")

var (
	ErrRobotUnavailable = fmt.Errorf("%w: robot unavailable", ErrConflict)
	ErrTaskUnavailable  = fmt.Errorf("%w: task unavailable", ErrConflict)
)
