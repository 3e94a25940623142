package model

import (
	"errors"
	"fmt"
)

// ErrValidation is returned for missing or malformed caller input.
// No state is mutated when it is returned.
var ErrValidation = errors.New("validation failed")

// ErrUnknownScenario is returned when a scenario kind is not in the catalog.
var ErrUnknownScenario = fmt.Errorf("%w: unknown scenario", ErrValidation)
