// Package imageprocessor turns uploaded images into face descriptors.
//
// The descriptor model itself is external: Extractor is implemented by the
// gRPC client in internal/grpcclient and, in builds tagged dlib, by a local
// go-face recognizer. This package owns decoding and normalising the upload
// before it reaches either one.
package imageprocessor

import (
	"context"
	"errors"

	"github.com/example/face-attendance/internal/face"
)

var (
	// ErrInvalidImage means the payload is not decodable image data.
	ErrInvalidImage = errors.New("invalid image")
	// ErrUnsupportedImage means the payload is a well-formed file of a type we do not accept.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrUnavailable means the extractor backend could not be reached.
	ErrUnavailable = errors.New("descriptor extractor unavailable")
)

// Extractor returns one descriptor per face found in image, possibly none.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]face.Descriptor, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, image []byte) ([]face.Descriptor, error)

func (f ExtractorFunc) Extract(ctx context.Context, image []byte) ([]face.Descriptor, error) {
	return f(ctx, image)
}

// Pipeline normalises an image before handing it to the backend extractor.
type Pipeline struct {
	backend Extractor
	maxSide uint
}

// NewPipeline wraps backend. maxSide bounds the longest edge sent to the backend; 0 disables resizing.
func NewPipeline(backend Extractor, maxSide uint) *Pipeline {
	return &Pipeline{backend: backend, maxSide: maxSide}
}

// Extract normalises image to JPEG and extracts descriptors from it.
func (p *Pipeline) Extract(ctx context.Context, image []byte) ([]face.Descriptor, error) {
	normalized, err := Normalize(image, p.maxSide)
	if err != nil {
		return nil, err
	}
	descriptors, err := p.backend.Extract(ctx, normalized)
	if err != nil {
		return nil, err
	}
	out := make([]face.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Validate() == nil {
			out = append(out, d)
		}
	}
	return out, nil
}
