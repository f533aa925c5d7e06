package transcript

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores finalized artifacts as objects in one bucket.
type S3Uploader struct {
	bucket string
	client s3Putter
}

// NewS3Uploader builds an uploader against the default AWS credential chain.
func NewS3Uploader(region, bucket string) (*S3Uploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("missing bucket")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := []func(*awsconfig.LoadOptions) error{}
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &S3Uploader{bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

// Upload writes one object. Retries are the caller's policy, not ours.
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body []byte) error {
	if key == "" {
		return fmt.Errorf("missing object key")
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	return err
}
