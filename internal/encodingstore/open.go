package encodingstore

import (
	"fmt"

	"github.com/example/face-attendance/internal/config"
)

// Open builds the store selected by cfg.Backend.
func Open(cfg config.EncodingsConfig) (Store, error) {
	switch cfg.Backend {
	case "disk":
		store, err := NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(S3Options{
			Bucket:              cfg.S3Bucket,
			Region:              cfg.S3Region,
			Prefix:              cfg.S3Prefix,
			Endpoint:            cfg.S3Endpoint,
			UnconditionalCreate: cfg.S3UnconditionalCreate,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported encoding backend %q", cfg.Backend)
	}
}
