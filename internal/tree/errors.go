package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrConstruction is the root of every failure raised while building a
	// tree or a problem. Test with errors.Is.
	ErrConstruction = errors.New("phedge: construction failed")

	// ErrInvalidPartition indicates a stage partition that is not a nested
	// refinement of contiguous id ranges.
	ErrInvalidPartition = fmt.Errorf("%w: invalid scenario partition", ErrConstruction)
)

// PartitionError locates the offending stage and set of a rejected partition.
type PartitionError struct {
	Stage  int
	Set    int
	Reason string
}

func (e *PartitionError) Error() string {
	if e.Set < 0 {
		return fmt.Sprintf("%v: stage %d: %s", ErrInvalidPartition, e.Stage, e.Reason)
	}
	return fmt.Sprintf("%v: stage %d set %d: %s", ErrInvalidPartition, e.Stage, e.Set, e.Reason)
}

func (e *PartitionError) Unwrap() error {
	return ErrInvalidPartition
}
