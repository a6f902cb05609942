package problem

import (
	"fmt"

	"github.com/san-kum/phedge/internal/tree"
)

var (
	// ErrConstruction is shared with the tree package so that every
	// build-time failure matches a single errors.Is target.
	ErrConstruction = tree.ErrConstruction

	ErrBadProbabilities = fmt.Errorf("%w: invalid scenario probabilities", ErrConstruction)
	ErrStageMap         = fmt.Errorf("%w: invalid stage to coordinate map", ErrConstruction)
	ErrTreeMismatch     = fmt.Errorf("%w: tree does not match scenarios", ErrConstruction)
	ErrInvalidModel     = fmt.Errorf("%w: invalid scenario model", ErrConstruction)
)

// ModelError reports the scenario whose model could not be built or checked.
type ModelError struct {
	Scenario int
	Wrapped  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("scenario %d: %v", e.Scenario, e.Wrapped)
}

func (e *ModelError) Unwrap() error {
	return e.Wrapped
}
