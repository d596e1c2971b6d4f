package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers bad input rejected before any state is created.
	ErrValidation = errors.New("checkout: invalid request")

	// ErrStockUnavailable means one of the requested reservations could not
	// be satisfied; every reservation already taken has been released.
	ErrStockUnavailable = errors.New("checkout: stock unavailable")
)

func newValidation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
