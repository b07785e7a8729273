package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/smoosense/smoosense/internal/config"
	apperrors "github.com/smoosense/smoosense/internal/errors"
)

// S3Presigner presigns GET requests with credentials from the default AWS
// chain (environment, shared config, instance role).
type S3Presigner struct {
	client *s3.PresignClient
	ttl    time.Duration
}

// NewS3Presigner loads AWS configuration and builds a presign client.
func NewS3Presigner(ctx context.Context, cfg appconfig.S3Config) (*S3Presigner, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Presigner{
		client: s3.NewPresignClient(s3.NewFromConfig(awsCfg, s3Opts...)),
		ttl:    ttl,
	}, nil
}

// PresignGet returns a GET URL for bucket/key valid for the configured TTL.
func (p *S3Presigner) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", apperrors.NewStorageError(apperrors.CodePresignFailed,
			fmt.Sprintf("failed to presign s3://%s/%s", bucket, key), err)
	}
	return req.URL, nil
}
