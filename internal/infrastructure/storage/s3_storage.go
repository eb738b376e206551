package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/infrastructure/metrics"
)

const (
	tagMaxObjectBytes  = "max-object-bytes"
	tagAllowedMIMEList = "allowed-mime-types"
)

// S3Storage manages the asset bucket on any S3 compatible endpoint
// (MinIO locally, AWS in production).
type S3Storage struct {
	client         *s3.Client
	bucket         string
	publicEndpoint string
	maxObjectBytes int64
	allowedMIMEs   []string
	cfg            *config.Config
	log            zerolog.Logger
}

// NewS3Storage builds the S3 client from configuration.
func NewS3Storage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Storage, error) {
	log = log.With().Str("component", "s3-storage").Logger()

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3Endpoint,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	publicEndpoint := cfg.S3PublicEndpoint
	if publicEndpoint == "" {
		publicEndpoint = cfg.S3Endpoint
	}

	log.Info().
		Str("endpoint", cfg.S3Endpoint).
		Str("bucket", cfg.S3Bucket).
		Str("region", cfg.S3Region).
		Msg("S3 storage initialized")

	return &S3Storage{
		client:         client,
		bucket:         cfg.S3Bucket,
		publicEndpoint: strings.TrimRight(publicEndpoint, "/"),
		maxObjectBytes: cfg.MaxStorageBytes,
		allowedMIMEs:   cfg.AllowedMIMETypes,
		cfg:            cfg,
		log:            log,
	}, nil
}

// EnsureBucket creates the asset bucket when it does not exist and stamps
// it with the object size ceiling and MIME allow-list tags. Safe to call on
// every startup; a concurrent create by another replica counts as success.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EnsureBucketTimeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return s.ensureBucketTags(ctx)
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		// Another replica won the create race, which is fine.
	} else {
		s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}

	return s.ensureBucketTags(ctx)
}

// ensureBucketTags writes the size ceiling and MIME allow-list tags,
// replacing them when the configured values drifted.
func (s *S3Storage) ensureBucketTags(ctx context.Context) error {
	wantBytes := strconv.FormatInt(s.maxObjectBytes, 10)
	wantMIMEs := strings.Join(s.allowedMIMEs, ",")

	tagging, err := s.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil && tagValue(tagging.TagSet, tagMaxObjectBytes) == wantBytes &&
		tagValue(tagging.TagSet, tagAllowedMIMEList) == wantMIMEs {
		return nil
	}

	_, err = s.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket: aws.String(s.bucket),
		Tagging: &types.Tagging{
			TagSet: []types.Tag{
				{Key: aws.String(tagMaxObjectBytes), Value: aws.String(wantBytes)},
				{Key: aws.String(tagAllowedMIMEList), Value: aws.String(wantMIMEs)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("tag bucket %s: %w", s.bucket, err)
	}
	return nil
}

func tagValue(tags []types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

// Upload writes an object to the bucket. When overwrite is false the write
// is conditional and a concurrent write to the same key fails instead of
// clobbering it. Processed paths always overwrite, so re-running the
// pipeline replaces the previous output.
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error {
	if int64(len(data)) > s.maxObjectBytes {
		return fmt.Errorf("object %s exceeds the %d byte storage ceiling", key, s.maxObjectBytes)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		metrics.RecordStorageOperation("upload", "error")
		return fmt.Errorf("put object %s: %w", key, err)
	}
	metrics.RecordStorageOperation("upload", "success")

	s.log.Debug().
		Str("key", key).
		Int("size", len(data)).
		Str("content_type", contentType).
		Msg("object uploaded")
	return nil
}

// PublicURL derives the externally reachable URL for a stored object from
// configuration alone. No network round trip, no presigning.
func (s *S3Storage) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicEndpoint, s.bucket, key)
}

// Remove deletes objects best-effort and in parallel. Failures are logged
// and swallowed; callers never fail on cleanup.
func (s *S3Storage) Remove(ctx context.Context, keys ...string) {
	var g errgroup.Group
	for _, key := range keys {
		if key == "" {
			continue
		}
		g.Go(func() error {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				metrics.RecordStorageOperation("delete", "error")
				s.log.Warn().Err(err).Str("key", key).Msg("best-effort delete failed")
				return nil
			}
			metrics.RecordStorageOperation("delete", "success")
			return nil
		})
	}
	_ = g.Wait()
}

// Health verifies the bucket is reachable.
func (s *S3Storage) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}
