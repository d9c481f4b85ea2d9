// Package params implements the ordered parameter snapshot of a trained
// network: layer name to tensor, in depth order (input to output).
package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/genbound/internal/tensor"
)

// WeightSuffix marks weight tensors. Every other entry (biases, running
// statistics) is skipped by norm products.
const WeightSuffix = "weight"

// Common errors.
var (
	ErrDuplicateName  = errors.New("params: duplicate parameter name")
	ErrUnknownName    = errors.New("params: unknown parameter name")
	ErrLayoutMismatch = errors.New("params: parameter layout mismatch")
)

// Entry is a single named tensor.
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

// Set is an ordered mapping from parameter name to tensor.
//
// The zero value is an empty set ready for use.
type Set struct {
	names   []string
	tensors map[string]*tensor.Tensor
}

// New creates a set from entries in depth order.
func New(entries ...Entry) (*Set, error) {
	s := &Set{}
	for _, e := range entries {
		if err := s.Add(e.Name, e.Tensor); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IsWeight reports whether name denotes a weight tensor.
func IsWeight(name string) bool {
	return strings.HasSuffix(name, WeightSuffix)
}

// Add appends a tensor at the end (deepest position so far).
func (s *Set) Add(name string, t *tensor.Tensor) error {
	if s.tensors == nil {
		s.tensors = make(map[string]*tensor.Tensor)
	}
	if _, exists := s.tensors[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	s.names = append(s.names, name)
	s.tensors[name] = t
	return nil
}

// Get returns the tensor stored under name.
func (s *Set) Get(name string) (*tensor.Tensor, bool) {
	t, ok := s.tensors[name]
	return t, ok
}

// Len returns the number of parameters.
func (s *Set) Len() int {
	return len(s.names)
}

// Names returns parameter names in depth order.
func (s *Set) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Entries returns the parameters in depth order (input to output).
func (s *Set) Entries() []Entry {
	entries := make([]Entry, len(s.names))
	for i, name := range s.names {
		entries[i] = Entry{Name: name, Tensor: s.tensors[name]}
	}
	return entries
}

// Reversed returns the parameters from the output layer to the input layer.
func (s *Set) Reversed() []Entry {
	entries := make([]Entry, len(s.names))
	for i, name := range s.names {
		entries[len(s.names)-1-i] = Entry{Name: name, Tensor: s.tensors[name]}
	}
	return entries
}

// NumElements returns the total number of scalars across all tensors.
func (s *Set) NumElements() int {
	n := 0
	for _, t := range s.tensors {
		n += t.NumElements()
	}
	return n
}

// Clone returns a deep copy. Mutating the clone never affects s.
func (s *Set) Clone() *Set {
	clone := &Set{
		names:   make([]string, len(s.names)),
		tensors: make(map[string]*tensor.Tensor, len(s.tensors)),
	}
	copy(clone.names, s.names)
	for name, t := range s.tensors {
		clone.tensors[name] = t.Clone()
	}
	return clone
}

// CopyFrom overwrites every tensor with the values of other without
// allocating. Both sets must have identical names, order and shapes.
func (s *Set) CopyFrom(other *Set) error {
	if err := s.CheckLayout(other); err != nil {
		return err
	}
	for _, name := range s.names {
		if err := s.tensors[name].CopyFrom(other.tensors[name]); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLayoutMismatch, name, err)
		}
	}
	return nil
}

// CheckLayout verifies that other has the same names in the same order with
// the same shapes.
func (s *Set) CheckLayout(other *Set) error {
	if len(s.names) != len(other.names) {
		return fmt.Errorf("%w: %d parameters vs %d", ErrLayoutMismatch, len(s.names), len(other.names))
	}
	for i, name := range s.names {
		if other.names[i] != name {
			return fmt.Errorf("%w: position %d is %q, expected %q", ErrLayoutMismatch, i, other.names[i], name)
		}
		if !s.tensors[name].Shape().Equal(other.tensors[name].Shape()) {
			return fmt.Errorf("%w: %s has shape %v, expected %v",
				ErrLayoutMismatch, name, other.tensors[name].Shape(), s.tensors[name].Shape())
		}
	}
	return nil
}

// CountRank returns how many tensors have the given rank.
func (s *Set) CountRank(rank int) int {
	n := 0
	for _, t := range s.tensors {
		if t.Rank() == rank {
			n++
		}
	}
	return n
}
