package checkpoint

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checkpoint: checksum mismatch, file may be corrupted")
	ErrHeaderTooLarge     = errors.New("checkpoint: header exceeds maximum size")
	ErrInvalidMagic       = errors.New("checkpoint: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("checkpoint: unsupported format version")
	ErrUnsupportedDType   = errors.New("checkpoint: unsupported dtype")
	ErrTensorNotFound     = errors.New("checkpoint: tensor not found")
	ErrClosed             = errors.New("checkpoint: reader is closed")
	ErrMissingMetadata    = errors.New("checkpoint: missing metadata")
)

// ValidationError provides detailed information about header validation
// failures.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string // Primary tensor name involved
	Tensor2 string // Secondary tensor name (for overlap errors)
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
