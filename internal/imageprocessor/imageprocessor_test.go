package imageprocessor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/example/face-attendance/internal/face"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeBase64AcceptsDataURLAndRaw(t *testing.T) {
	payload := testPNG(t, 4, 4)
	encoded := base64.StdEncoding.EncodeToString(payload)

	for _, in := range []string{encoded, "data:image/png;base64," + encoded, "  " + encoded + "\n"} {
		got, err := DecodeBase64(in)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatal("decoded payload differs")
		}
	}
}

func TestDecodeBase64RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "data:image/png;base64", "data:image/png;base64,", "%%%not-base64%%%"} {
		if _, err := DecodeBase64(in); !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage for %q, got %v", in, err)
		}
	}
}

func TestDetectType(t *testing.T) {
	if got, err := DetectType(testPNG(t, 2, 2)); err != nil || got != "image/png" {
		t.Fatalf("expected image/png, got %q (%v)", got, err)
	}
	if _, err := DetectType([]byte("hello, world")); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if _, err := DetectType(nil); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for empty payload, got %v", err)
	}
}

func TestNormalizeShrinksAndConvertsToJPEG(t *testing.T) {
	out, err := Normalize(testPNG(t, 200, 100), 50)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Fatalf("expected 50x25, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, err := Normalize(testPNG(t, 30, 20), 1024)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 20 {
		t.Fatalf("expected 30x20, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestNormalizeRejectsTruncatedImage(t *testing.T) {
	data := testPNG(t, 20, 20)
	if _, err := Normalize(data[:len(data)/2], 0); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestPipelineSendsJPEGAndDropsInvalidDescriptors(t *testing.T) {
	var received []byte
	backend := ExtractorFunc(func(ctx context.Context, img []byte) ([]face.Descriptor, error) {
		received = img
		return []face.Descriptor{{0.1, 0.2}, {}, {math.NaN()}, {0.3, 0.4}}, nil
	})
	p := NewPipeline(backend, 0)

	got, err := p.Extract(context.Background(), testPNG(t, 8, 8))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(received)); err != nil {
		t.Fatalf("expected backend to receive jpeg: %v", err)
	}
	if len(got) != 2 || got[1][0] != 0.3 {
		t.Fatalf("unexpected descriptors: %v", got)
	}
}

func TestPipelineDoesNotCallBackendForBadInput(t *testing.T) {
	called := false
	backend := ExtractorFunc(func(ctx context.Context, img []byte) ([]face.Descriptor, error) {
		called = true
		return nil, nil
	})
	_, err := NewPipeline(backend, 0).Extract(context.Background(), []byte("plain text"))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if called {
		t.Fatal("backend must not be called for rejected input")
	}
}

func TestPipelineLeavesBackendResultIntact(t *testing.T) {
	returned := []face.Descriptor{{}, {0.5, 0.6}}
	backend := ExtractorFunc(func(ctx context.Context, img []byte) ([]face.Descriptor, error) {
		return returned, nil
	})

	got, err := NewPipeline(backend, 0).Extract(context.Background(), testPNG(t, 4, 4))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.5 {
		t.Fatalf("unexpected descriptors: %v", got)
	}
	if len(returned[0]) != 0 || returned[1][0] != 0.5 {
		t.Fatalf("backend slice was modified: %v", returned)
	}
}
