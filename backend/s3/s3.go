// Package s3 provides an ocfl.WriteFS over an S3 bucket.
package s3

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/preservio/ocfl/backend/cloud"
	"gocloud.dev/blob/s3blob"
)

// NewFS returns a WriteFS over the named S3 bucket using sess for
// credentials and region configuration.
func NewFS(ctx context.Context, sess *session.Session, bucket string, logger *slog.Logger) (*cloud.FS, error) {
	b, err := s3blob.OpenBucket(ctx, sess, bucket, nil)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		return cloud.NewFS(b, cloud.WithLogger(logger)), nil
	}
	return cloud.NewFS(b), nil
}
