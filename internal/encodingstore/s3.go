package encodingstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/example/face-attendance/internal/face"
)

// S3Store keeps one JSON object per key in a bucket, below an optional prefix.
type S3Store struct {
	client s3iface.S3API
	bucket string
	prefix string
	// unconditional falls back to HEAD then PUT for stores without If-None-Match.
	unconditional bool
}

// S3Options configures NewS3Store.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
	// UnconditionalCreate disables If-None-Match on Create. Only for
	// S3-compatible stores that reject conditional writes.
	UnconditionalCreate bool
}

// NewS3Store builds a client from the default AWS credential chain.
func NewS3Store(opts S3Options) (*S3Store, error) {
	awsCfg := aws.NewConfig()
	if opts.Region != "" {
		awsCfg = awsCfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	store := NewS3StoreWithClient(s3.New(sess), opts.Bucket, opts.Prefix)
	store.unconditional = opts.UnconditionalCreate
	return store, nil
}

// NewS3StoreWithClient wraps an existing S3 client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string) *S3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) objectKey(key face.EncodingKey) string {
	return s.prefix + ObjectName(key)
}

func (s *S3Store) Save(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error {
	if err := s.put(ctx, key, set); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

// Create writes with If-None-Match: *, so S3 rejects the second of two
// concurrent writers with 412. In unconditional mode it checks with HEAD
// first, which is advisory only.
func (s *S3Store) Create(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error {
	if s.unconditional {
		exists, err := s.head(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return ErrExists
		}
		return s.Save(ctx, key, set)
	}

	err := s.put(ctx, key, set, request.WithSetRequestHeaders(map[string]string{"If-None-Match": "*"}))
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrExists
		}
		return fmt.Errorf("creating %s: %w", key, err)
	}
	return nil
}

// ExclusiveCreate reports whether Create is a conditional write.
func (s *S3Store) ExclusiveCreate() bool {
	return !s.unconditional
}

func (s *S3Store) put(ctx context.Context, key face.EncodingKey, set face.EncodingSet, opts ...request.Option) error {
	data, err := encode(key, set)
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}, opts...)
	return err
}

func (s *S3Store) head(ctx context.Context, key face.EncodingKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) Load(ctx context.Context, key face.EncodingKey) (face.EncodingSet, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return decode(key, data)
}

func (s *S3Store) Exists(ctx context.Context, key face.EncodingKey) (bool, error) {
	set, err := s.Load(ctx, key)
	if err != nil {
		return false, err
	}
	return len(set) > 0, nil
}

func (s *S3Store) Delete(ctx context.Context, key face.EncodingKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key, err := ParseObjectName(strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
			if err != nil {
				continue
			}
			objects = append(objects, Object{Key: key, Modified: aws.TimeValue(obj.LastModified)})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("listing encodings: %w", err)
	}
	return objects, nil
}

// isPreconditionFailed matches 412 and the 409 S3 returns while a competing
// conditional write is still in flight.
func isPreconditionFailed(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
