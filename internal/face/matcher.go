package face

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultTolerance is the maximum Euclidean distance at which two descriptors
// are considered the same person.
const DefaultTolerance = 0.6

// DistanceFunc computes the distance between two descriptors.
type DistanceFunc func(a, b Descriptor) float64

// EuclideanDistance is the L2 distance. Descriptors of different dimension are infinitely far apart.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// Matcher decides whether a probe descriptor belongs to a set of known descriptors.
type Matcher struct {
	distance  DistanceFunc
	tolerance float64
}

// NewMatcher builds a Euclidean matcher. A non-positive tolerance selects DefaultTolerance.
func NewMatcher(tolerance float64) *Matcher {
	return NewMatcherWithDistance(EuclideanDistance, tolerance)
}

// NewMatcherWithDistance builds a matcher over an arbitrary distance function.
func NewMatcherWithDistance(distance DistanceFunc, tolerance float64) *Matcher {
	if distance == nil {
		distance = EuclideanDistance
	}
	if tolerance <= 0 || math.IsNaN(tolerance) {
		tolerance = DefaultTolerance
	}
	return &Matcher{distance: distance, tolerance: tolerance}
}

// Tolerance returns the matcher's default tolerance.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Match uses the matcher's configured tolerance.
func (m *Matcher) Match(known EncodingSet, probe Descriptor) bool {
	return m.MatchWithTolerance(known, probe, m.tolerance)
}

// MatchWithTolerance returns true iff at least one known descriptor lies within
// tolerance of the probe. An empty set never matches.
func (m *Matcher) MatchWithTolerance(known EncodingSet, probe Descriptor, tolerance float64) bool {
	if tolerance < 0 {
		return false
	}
	for _, d := range known {
		if m.distance(d, probe) <= tolerance {
			return true
		}
	}
	return false
}

// BestDistance returns the smallest distance between the probe and any known
// descriptor. ok is false for an empty set.
func (m *Matcher) BestDistance(known EncodingSet, probe Descriptor) (best float64, ok bool) {
	best = math.Inf(1)
	for _, d := range known {
		if dist := m.distance(d, probe); dist < best {
			best = dist
			ok = true
		}
	}
	return best, ok
}
