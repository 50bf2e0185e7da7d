package usecase

import "errors"

var (
	// ErrValidation marks missing or malformed input, including images the
	// extractor could not decode.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateRegistration is returned when an encoding set or student
	// record already exists for the (student_id, group_id) pair.
	ErrDuplicateRegistration = errors.New("student already registered in this group")

	// ErrRegistrationInProgress is returned while another registration for the
	// same (student_id, group_id) holds the lock. Its outcome is unknown, so
	// the client may retry.
	ErrRegistrationInProgress = errors.New("registration already in progress")

	// ErrNoFaceDetected is returned when no submitted image yields a descriptor.
	ErrNoFaceDetected = errors.New("no face detected")

	ErrStudentNotFound = errors.New("student not found")

	// ErrNotRegistered is returned for an existing student without an encoding set.
	ErrNotRegistered = errors.New("student not registered")

	ErrNoMatch = errors.New("face did not match")

	// ErrPersistence wraps storage failures that the caller cannot correct.
	ErrPersistence = errors.New("persistence failure")

	// ErrExtractorUnavailable is returned when the descriptor extractor cannot be reached.
	ErrExtractorUnavailable = errors.New("descriptor extractor unavailable")

	ErrGroupNotFound = errors.New("group not found")

	// ErrCandidateNotConfirmable is returned when a confirmation names a
	// student that the referenced identification did not match.
	ErrCandidateNotConfirmable = errors.New("student is not a candidate of this identification")

	ErrForbidden = errors.New("caller is not allowed to perform this operation")
)

// ValidationError carries the offending field names.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	msg := "missing required fields: " + e.Fields[0]
	for _, f := range e.Fields[1:] {
		msg += ", " + f
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
