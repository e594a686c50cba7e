// Package s3blob implements the domain blob interfaces on AWS SDK v2. The
// bucket holds the settled-position archive; any S3-compatible store (AWS,
// MinIO, R2) works through the Endpoint override.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the connection parameters for the archive bucket.
type Config struct {
	Endpoint       string // empty for AWS S3, otherwise the provider URL
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool // scheme to assume when Endpoint has none
	ForcePathStyle bool // bucket in path, required by most self-hosted stores
}

// Client holds the SDK client and the archive bucket shared by the reader,
// writer, and archiver.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the SDK client with static credentials. Bucket and region are
// required; everything else has AWS defaults.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Ping verifies the bucket is reachable and the credentials can see it.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no teardown. Kept so the
// client fits the app's closer list.
func (c *Client) Close() error {
	return nil
}

// withScheme prepends https:// or http:// when the endpoint has no scheme.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
