//go:build !dlib

package imageprocessor

import (
	"context"
	"errors"

	"github.com/example/face-attendance/internal/face"
)

// DlibExtractor is unavailable in builds without the dlib tag.
type DlibExtractor struct{}

func NewDlibExtractor(string) (*DlibExtractor, error) {
	return nil, errors.New("binary built without dlib support; rebuild with -tags dlib")
}

func (*DlibExtractor) Extract(context.Context, []byte) ([]face.Descriptor, error) {
	return nil, ErrUnavailable
}

func (*DlibExtractor) Close() error { return nil }
