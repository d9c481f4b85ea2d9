package checkpoint

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateTensorOffsets_NoOverlap verifies that valid tensors pass validation.
func TestValidateTensorOffsets_NoOverlap(t *testing.T) {
	tensors := []TensorMeta{
		{Name: "fc1.weight", Offset: 0, Size: 100},
		{Name: "fc1.bias", Offset: 100, Size: 200},
		{Name: "fc2.weight", Offset: 300, Size: 150},
	}
	if err := ValidateTensorOffsets(tensors, 500); err != nil {
		t.Errorf("Expected no error for valid tensors, got: %v", err)
	}
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name: "overlap",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 99, Size: 100},
			},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name: "exact boundary",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 100, Size: 100},
			},
			dataSize: 200,
		},
		{
			name:     "out of bounds",
			tensors:  []TensorMeta{{Name: "a", Offset: 150, Size: 100}},
			dataSize: 200,
			wantType: "out_of_bounds",
		},
		{
			name:     "negative",
			tensors:  []TensorMeta{{Name: "a", Offset: -1, Size: 10}},
			dataSize: 200,
			wantType: "negative_offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %T (%v)", err, err)
			}
			if validationErr.Type != tt.wantType {
				t.Errorf("Expected %s error, got %s", tt.wantType, validationErr.Type)
			}
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	valid := []string{"fc1.weight", "layers.0.bias", "conv_2.weight"}
	for _, name := range valid {
		if err := ValidateTensorName(name); err != nil {
			t.Errorf("ValidateTensorName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "../etc/passwd", "a/b", "a\\b", "bad\x00name", strings.Repeat("x", MaxTensorNameLen+1)}
	for _, name := range invalid {
		if err := ValidateTensorName(name); err == nil {
			t.Errorf("ValidateTensorName(%q) = nil, want error", name)
		}
	}
}

func TestValidateHeader(t *testing.T) {
	good := TensorMeta{Name: "w", DType: DTypeFloat32, Shape: []int{2, 3}, Offset: 0, Size: 24}

	h := &Header{Tensors: []TensorMeta{good}}
	if err := ValidateHeader(h, 24, ValidationStrict); err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}

	tests := []struct {
		name     string
		tensors  []TensorMeta
		level    ValidationLevel
		wantType string
	}{
		{"size mismatch", []TensorMeta{{Name: "w", DType: DTypeFloat64, Shape: []int{2, 3}, Size: 24}}, ValidationStrict, "size_mismatch"},
		{"bad dtype", []TensorMeta{{Name: "w", DType: "int8", Shape: []int{1}, Size: 1}}, ValidationNormal, "invalid_dtype"},
		{"duplicate", []TensorMeta{good, good}, ValidationNormal, "duplicate_name"},
		{"zero dim", []TensorMeta{{Name: "w", DType: DTypeFloat32, Shape: []int{0, 3}, Size: 0}}, ValidationStrict, "invalid_shape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&Header{Tensors: tt.tensors}, 1024, tt.level)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %T (%v)", err, err)
			}
			if validationErr.Type != tt.wantType {
				t.Errorf("Expected %s error, got %s", tt.wantType, validationErr.Type)
			}
		})
	}

	if err := ValidateHeader(&Header{Tensors: []TensorMeta{good, good}}, 0, ValidationNone); err != nil {
		t.Errorf("ValidationNone should skip checks, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Type: "offset_overlap", Tensor: "a", Tensor2: "b", Details: "x"}
	if got := err.Error(); !strings.Contains(got, `"a" and "b"`) {
		t.Errorf("unexpected message %q", got)
	}
	err = &ValidationError{Type: "too_many_tensors", Details: "got 2"}
	if got := err.Error(); got != "too_many_tensors: got 2" {
		t.Errorf("unexpected message %q", got)
	}
}
