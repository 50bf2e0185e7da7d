package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/imageprocessor"
)

// firstDescriptor extracts descriptors from image and returns the first one.
// ok is false when the image contains no detectable face. Extractor failures
// are normalised so that none escapes as an unclassified fault.
func firstDescriptor(ctx context.Context, extractor imageprocessor.Extractor, image []byte) (face.Descriptor, bool, error) {
	if len(image) == 0 {
		return nil, false, &ValidationError{Fields: []string{"image"}}
	}
	descriptors, err := extractor.Extract(ctx, image)
	if err != nil {
		return nil, false, normalizeExtractError(err)
	}
	if len(descriptors) == 0 {
		return nil, false, nil
	}
	return descriptors[0].Clone(), true, nil
}

func normalizeExtractError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, imageprocessor.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrExtractorUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
}
