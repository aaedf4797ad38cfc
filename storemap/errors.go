package storemap

import "errors"

var (
	// ErrInconsistentState marks stored bytes that this container family
	// wrote in an earlier call but can no longer interpret: a decode
	// failure, a dangling slot index, or a broken map/arena bijection.
	// It is never reported as simple absence, continuing would operate on
	// semantically unknown data.
	ErrInconsistentState = errors.New("storemap: stored state is inconsistent")

	ErrIndexOutOfBounds = errors.New("storemap: index out of bounds")
	ErrLengthOverflow   = errors.New("storemap: container length exceeds uint32")
	ErrValueNotPresent  = errors.New("storemap: value not present for a cell that requires one")
	ErrBadKeyScheme     = errors.New("storemap: unknown key derivation scheme")
	ErrBadDrainRange    = errors.New("storemap: drain range start exceeds end")
)
