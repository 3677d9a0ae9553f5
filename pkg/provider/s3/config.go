// Package s3 implements the storage provider for AWS S3 and S3-compatible stores.
package s3

import "time"

// Config configures an S3 provider bound to a single bucket.
//
// Credentials come from the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. Presigned URLs are signed with whichever
// credentials the provider resolved, so static credentials are preferred for
// long-lived links: URLs signed with session credentials expire together with
// the session.
//
// For S3-compatible stores (MinIO, Wasabi, moto) set Endpoint and usually
// ForcePathStyle. When Endpoint is set no default region is applied.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. Falls back to us-east-1 for AWS endpoints.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS shared-config profile name.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses the provider default (1000). Values over 1000 are clamped.
	MaxKeys int

	// PartSize is the multipart part size used for uploads of unknown or
	// large size. Zero uses DefaultPartSize; S3 rejects parts under 5 MiB.
	PartSize int64
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// DefaultPartSize bounds a single PutObject; larger or unsized bodies are
// uploaded in parts of this size. 10,000 parts of 16 MiB allow objects up
// to about 156 GiB.
const DefaultPartSize int64 = 16 << 20

// MaxPresignExpiry is the longest validity SigV4 accepts for a presigned URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
