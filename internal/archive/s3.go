// Package archive implements the optional S3 backup-archive feature
// (SPEC_FULL.md §11 domain stack): snapshotting a producer's repository
// directory to object storage and restoring it back. Grounded on the
// teacher's internal/infrastructure/storage/s3.go (aws-sdk-go-v2 client
// construction: config.LoadDefaultConfig, static-credentials provider,
// custom-endpoint/path-style options for S3-compatible backends, bucket
// verification on startup), narrowed from that file's full filesystem-like
// StorageService interface down to the two operations this feature needs.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/LunchBadger/configstore/pkg/logger"
)

// Config controls the S3 destination for archived snapshots.
type Config struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	Endpoint     string // optional, for S3-compatible services
	UsePathStyle bool
	Prefix       string
}

// Archiver uploads and retrieves repository snapshots in S3.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Logger
}

// New builds an Archiver, verifying the target bucket is reachable.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	a := &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		log:    logger.Get().WithFields(logger.Component("archive")),
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("verifying S3 bucket %q: %w", cfg.Bucket, err)
	}

	return a, nil
}

// Snapshot uploads body (expected to be a tar.gz stream of a producer's
// repository directory) to the archive under the producer's key.
func (a *Archiver) Snapshot(ctx context.Context, producerID string, body io.Reader) error {
	key := a.key(producerID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot for %q: %w", producerID, err)
	}
	a.log.Info("uploaded archive snapshot", logger.Producer(producerID), logger.String("key", key))
	return nil
}

// Restore retrieves the most recent snapshot uploaded for producerID.
func (a *Archiver) Restore(ctx context.Context, producerID string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(producerID)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot for %q: %w", producerID, err)
	}
	return out.Body, nil
}

func (a *Archiver) key(producerID string) string {
	return a.prefix + producerID + ".tar.gz"
}
