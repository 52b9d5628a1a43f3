package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"pdfsqueeze/internal/circuitbreaker"
	appconfig "pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

// S3Provider implements Provider for S3-compatible storage
type S3Provider struct {
	client         *s3.Client
	bucket         string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	opTimeout      time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// NewS3Provider creates a new S3-compatible storage provider
func NewS3Provider(ctx context.Context, cfg *appconfig.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (*S3Provider, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET required for s3 storage")
	}

	region := cfg.S3Region
	if region == "" || (region == "auto" && cfg.S3Endpoint == "") {
		// Reasonable default; works for MinIO and AWS if caller doesn't care.
		region = "us-east-1"
	}

	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	// Static credentials (typical for MinIO and many S3-compatible providers)
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKeyID,
				cfg.S3SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		// Custom endpoint (MinIO, R2, Wasabi, etc.)
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	return &S3Provider{
		client:         client,
		bucket:         cfg.S3Bucket,
		circuitBreaker: cb,
		metrics:        m,
		opTimeout:      cfg.StorageFetchTimeout,
		maxRetries:     cfg.StorageMaxRetries,
		retryDelay:     cfg.StorageRetryDelay,
	}, nil
}

// PutObject uploads an object
func (s *S3Provider) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (err error) {
	start := time.Now()
	defer func() { observe(s.metrics, "s3", "put", start, err) }()

	return s.circuitBreaker.Do(func() error {
		return withRetry(ctx, s.maxRetries, s.retryDelay, isRetryableError, func() error {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind body: %w", err)
			}

			putCtx, cancel := s.withTimeout(ctx)
			defer cancel()

			_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				Body:          body,
				ContentLength: aws.Int64(size),
				ContentType:   aws.String(models.ContentTypePDF),
			})
			return classify(err, key)
		})
	})
}

// GetObject retrieves an object. The caller's context bounds the whole
// download, so no per-attempt timeout is applied to the body.
func (s *S3Provider) GetObject(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { observe(s.metrics, "s3", "get", start, err) }()

	return circuitbreaker.Run(s.circuitBreaker, func() (io.ReadCloser, error) {
		var body io.ReadCloser
		err := withRetry(ctx, s.maxRetries, s.retryDelay, isRetryableError, func() error {
			output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return classify(err, key)
			}
			body = output.Body
			return nil
		})
		if err != nil {
			return nil, err
		}
		return body, nil
	})
}

// DeleteObject removes an object. S3 reports success for missing keys.
func (s *S3Provider) DeleteObject(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { observe(s.metrics, "s3", "delete", start, err) }()

	return s.circuitBreaker.Do(func() error {
		return withRetry(ctx, s.maxRetries, s.retryDelay, isRetryableError, func() error {
			delCtx, cancel := s.withTimeout(ctx)
			defer cancel()

			_, err := s.client.DeleteObject(delCtx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			err = classify(err, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		})
	})
}

func (s *S3Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// classify maps missing-object responses to ErrNotFound
func classify(err error, key string) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

// nonRetryableCodes are S3 error codes that will fail the same way on retry
var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"InvalidArgument":       true,
	"EntityTooLarge":        true,
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context errors (timeout/cancellation)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrNotFound) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && nonRetryableCodes[apiErr.ErrorCode()] {
		return false
	}

	// Network issues, throttling and 5xx responses are worth another attempt
	return true
}

// HealthCheck performs a lightweight connectivity check against the bucket
func (s *S3Provider) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	return nil
}
