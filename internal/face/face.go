// Package face holds the descriptor types shared by enrollment and verification
// and the tolerance-based matcher that compares them.
package face

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Descriptor is a fixed-length numeric vector describing one detected face.
// Descriptors are produced by an extractor and are treated as immutable.
type Descriptor []float64

// EncodingSet is the ordered collection of descriptors enrolled for one student in one group.
type EncodingSet []Descriptor

// EncodingKey identifies the storage location of one EncodingSet.
type EncodingKey struct {
	StudentID string `json:"student_id"`
	GroupID   uint   `json:"group_id"`
}

var (
	// ErrEmptyEncodingSet is returned when an empty set would be persisted.
	ErrEmptyEncodingSet = errors.New("encoding set is empty")
	// ErrInvalidKey is returned for keys missing a student or group component.
	ErrInvalidKey = errors.New("invalid encoding key")
	// ErrInvalidDescriptor is returned for empty or non-finite descriptors.
	ErrInvalidDescriptor = errors.New("invalid face descriptor")
)

// Validate reports whether both key components are present.
func (k EncodingKey) Validate() error {
	if strings.TrimSpace(k.StudentID) == "" || k.GroupID == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, k)
	}
	return nil
}

func (k EncodingKey) String() string {
	return fmt.Sprintf("%s@%d", k.StudentID, k.GroupID)
}

// Validate checks that the descriptor is non-empty and finite.
func (d Descriptor) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("%w: zero length", ErrInvalidDescriptor)
	}
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidDescriptor, i)
		}
	}
	return nil
}

// Clone returns a copy that does not share backing storage with d.
func (d Descriptor) Clone() Descriptor {
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Validate checks that the set is non-empty and every descriptor is valid
// and of the same dimension.
func (s EncodingSet) Validate() error {
	if len(s) == 0 {
		return ErrEmptyEncodingSet
	}
	dim := len(s[0])
	for i, d := range s {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("descriptor %d: %w", i, err)
		}
		if len(d) != dim {
			return fmt.Errorf("%w: descriptor %d has dimension %d, want %d", ErrInvalidDescriptor, i, len(d), dim)
		}
	}
	return nil
}

// Clone deep-copies the set.
func (s EncodingSet) Clone() EncodingSet {
	out := make(EncodingSet, len(s))
	for i, d := range s {
		out[i] = d.Clone()
	}
	return out
}
