package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates the archive bucket. Credentials come from the AWS SDK
// default chain (env vars, shared config, IAM role).
type S3Config struct {
	Bucket string
	// Prefix is the key prefix within the bucket.
	Prefix string
	// Region overrides the region from the default chain.
	Region string
	// Profile selects a shared config profile.
	Profile string
	// Endpoint points at an S3-compatible provider such as R2 or MinIO.
	Endpoint string
	// UsePathStyle puts the bucket in the path. Most S3-compatible
	// providers need it.
	UsePathStyle bool
	// MaxAttempts bounds SDK-level retries per request. Zero keeps the SDK
	// default.
	MaxAttempts int
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("S3 bucket is required"))
	}
	if strings.ContainsAny(c.Bucket, "/ ") {
		errs = append(errs, fmt.Errorf("invalid S3 bucket name %q", c.Bucket))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("S3 max attempts must be >= 0, got %d", c.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Location renders the s3:// root of the configured bucket and prefix.
func (c *S3Config) Location() string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		return "s3://" + c.Bucket
	}
	return "s3://" + c.Bucket + "/" + prefix
}

// ParseS3Path splits "bucket/prefix", "bucket" or "s3://bucket/prefix".
// Surrounding slashes on the prefix are dropped.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	return bucket, strings.Trim(prefix, "/")
}

// loadOptions maps the config onto AWS SDK load options.
func (c *S3Config) loadOptions() []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(c.MaxAttempts))
	}
	return opts
}

// clientOptions applies the endpoint and addressing overrides.
func (c *S3Config) clientOptions(o *s3.Options) {
	if c.Endpoint != "" {
		endpoint := c.Endpoint
		o.BaseEndpoint = &endpoint
	}
	if c.UsePathStyle {
		o.UsePathStyle = true
	}
}

// NewS3Factory builds a Lode store factory backed by S3.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, s3cfg.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, s3cfg.clientOptions)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// NewS3Archive creates an archive with S3 storage backend.
func NewS3Archive(ctx context.Context, cfg Config, s3cfg S3Config) (*Archive, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, Wrap(err, "init", cfg.Dataset)
	}
	if cfg.Location == "" {
		cfg.Location = s3cfg.Location()
	}
	return NewArchiveWithFactory(cfg, factory)
}
