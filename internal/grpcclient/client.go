// Package grpcclient talks to the remote face descriptor extractor.
//
// The extractor exposes a single unary method that takes the JPEG bytes as a
// google.protobuf.BytesValue and answers with a google.protobuf.ListValue whose
// entries are lists of numbers, one per detected face.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/logging"
)

// ExtractMethod is the full gRPC method name served by the extractor.
const ExtractMethod = "/faceextractor.v1.DescriptorExtractor/Extract"

// DialExtractor returns a ready-to-use extractor client. Extra options are appended to the defaults.
func DialExtractor(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (imageprocessor.Extractor, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_extractor", "", err)
		logger.Error("failed to dial descriptor extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewExtractor(conn, logger), conn, nil
}

// NewExtractor wraps an existing connection.
func NewExtractor(conn grpc.ClientConnInterface, logger *zap.Logger) imageprocessor.Extractor {
	return &grpcExtractor{conn: conn, logger: logger.Named("grpc_extractor")}
}

type grpcExtractor struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcExtractor) Extract(ctx context.Context, image []byte) ([]face.Descriptor, error) {
	resp := &structpb.ListValue{}
	if err := g.conn.Invoke(ctx, ExtractMethod, wrapperspb.Bytes(image), resp); err != nil {
		mapped := mapStatus(err)
		g.logger.Warn("extractor call failed", zap.Error(err), zap.Int("image_bytes", len(image)))
		return nil, logging.NewOperationError("grpcclient.extract", "", mapped)
	}
	return toDescriptors(resp)
}

func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", imageprocessor.ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", imageprocessor.ErrInvalidImage, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", imageprocessor.ErrUnavailable, st.Code(), st.Message())
	}
}

func toDescriptors(list *structpb.ListValue) ([]face.Descriptor, error) {
	descriptors := make([]face.Descriptor, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		inner := v.GetListValue()
		if inner == nil {
			return nil, fmt.Errorf("%w: face %d is not a list", imageprocessor.ErrUnavailable, i)
		}
		d := make(face.Descriptor, 0, len(inner.GetValues()))
		for j, n := range inner.GetValues() {
			num, ok := n.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: face %d component %d is not a number", imageprocessor.ErrUnavailable, i, j)
			}
			d = append(d, num.NumberValue)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
