//go:build dlib

package imageprocessor

import (
	"context"
	"fmt"
	"sync"

	goface "github.com/Kagami/go-face"

	"github.com/example/face-attendance/internal/face"
)

// DlibExtractor runs dlib's ResNet face model in process.
type DlibExtractor struct {
	mu  sync.Mutex
	rec *goface.Recognizer
}

// NewDlibExtractor loads the dlib models from modelsDir.
func NewDlibExtractor(modelsDir string) (*DlibExtractor, error) {
	rec, err := goface.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("loading dlib models from %s: %w", modelsDir, err)
	}
	return &DlibExtractor{rec: rec}, nil
}

// Extract expects JPEG input, which Pipeline guarantees.
func (e *DlibExtractor) Extract(ctx context.Context, image []byte) ([]face.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	faces, err := e.rec.Recognize(image)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	descriptors := make([]face.Descriptor, 0, len(faces))
	for _, f := range faces {
		d := make(face.Descriptor, len(f.Descriptor))
		for i, v := range f.Descriptor {
			d[i] = float64(v)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func (e *DlibExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Close()
	return nil
}
