package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Snapshotter stores the snapshot as a single object in S3. It is
// the backend to reach for when the process itself is ephemeral
// (scale-to-zero hosts) and the local disk does not survive restarts.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	snap := store.NewS3Snapshotter(s3.NewFromConfig(cfg), "my-bucket", "state.json")
type S3Snapshotter struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Snapshotter creates an S3-backed snapshotter.
func NewS3Snapshotter(client *s3.Client, bucket, key string) *S3Snapshotter {
	return &S3Snapshotter{client: client, bucket: bucket, key: key}
}

// Load implements Snapshotter. A missing object returns (nil, nil).
func (s *S3Snapshotter) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: s3 load: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("store: s3 read: %w", err)
	}
	return data, nil
}

// Save implements Snapshotter.
func (s *S3Snapshotter) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"saved-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("store: s3 save: %w", err)
	}
	return nil
}
