package checkpoint

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Validation limits.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ValidationLevel controls the strictness of header validation.
type ValidationLevel int

const (
	// ValidationStrict checks names, dtypes, sizes and offsets (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and dtypes only.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted input.
	ValidationNone
)

// ValidateTensorOffsets checks that every tensor lies inside the data
// section and that no two tensors share bytes.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	byOffset := slices.Clone(tensors)
	slices.SortFunc(byOffset, func(a, b TensorMeta) int { return cmp.Compare(a.Offset, b.Offset) })

	var prev *TensorMeta
	for i := range byOffset {
		t := &byOffset[i]
		end := t.Offset + t.Size
		switch {
		case t.Offset < 0 || t.Size < 0:
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		case end > dataSize:
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("ends at byte %d, data section has %d", end, dataSize),
			}
		case prev != nil && prev.Offset+prev.Size > t.Offset:
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  prev.Name,
				Tensor2: t.Name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					prev.Offset, prev.Offset+prev.Size, t.Offset, end),
			}
		}
		prev = t
	}
	return nil
}

// forbiddenInName lists substrings a parameter name may not contain, with
// the reason reported for each.
var forbiddenInName = []struct{ substr, reason string }{
	{"..", "contains '..'"},
	{"/", "contains path separator (/ or \\)"},
	{"\\", "contains path separator (/ or \\)"},
	{"\x00", "contains null byte"},
}

// ValidateTensorName rejects empty or overlong parameter names and names
// that could be mistaken for paths.
func ValidateTensorName(name string) error {
	if name == "" {
		return &ValidationError{Type: "invalid_name", Details: "empty tensor name"}
	}
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	for _, f := range forbiddenInName {
		if strings.Contains(name, f.substr) {
			return &ValidationError{Type: "invalid_name", Tensor: name, Details: f.reason}
		}
	}
	return nil
}

// validateTensorSize checks that the byte size matches shape and dtype.
func validateTensorSize(t TensorMeta) error {
	elem, err := dtypeSize(t.DType)
	if err != nil {
		return &ValidationError{Type: "invalid_dtype", Tensor: t.Name, Details: err.Error()}
	}
	n := int64(1)
	for _, d := range t.Shape {
		if d <= 0 {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  t.Name,
				Details: fmt.Sprintf("shape %v has a non-positive dimension", t.Shape),
			}
		}
		n *= int64(d)
	}
	if n*int64(elem) != t.Size {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  t.Name,
			Details: fmt.Sprintf("shape %v of %s needs %d bytes, header says %d", t.Shape, t.DType, n*int64(elem), t.Size),
		}
	}
	return nil
}

// ValidateHeader validates h against the data section size at the given
// level.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	seen := make(map[string]bool, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if seen[t.Name] {
			return &ValidationError{Type: "duplicate_name", Tensor: t.Name, Details: "listed more than once"}
		}
		seen[t.Name] = true
		if _, err := dtypeSize(t.DType); err != nil {
			return &ValidationError{Type: "invalid_dtype", Tensor: t.Name, Details: err.Error()}
		}
	}

	if level == ValidationStrict {
		for _, t := range h.Tensors {
			if err := validateTensorSize(t); err != nil {
				return err
			}
		}
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
	}
	return nil
}
