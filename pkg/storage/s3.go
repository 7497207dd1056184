package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kite-collector/pkg/shared"
)

// S3Sink uploads daily artifacts with the multipart upload manager.
type S3Sink struct {
	uploader *manager.Uploader
	bucket   string
	log      shared.Logger
}

func NewS3Sink(ctx context.Context, cfg shared.S3Config, log shared.Logger) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Sink{uploader: manager.NewUploader(client), bucket: cfg.Bucket, log: log}, nil
}

// Put uploads the local file under key. The caller decides what happens to
// the local copy afterwards.
func (s *S3Sink) Put(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	s.log.Infof("uploaded s3://%s/%s", s.bucket, key)
	return nil
}
