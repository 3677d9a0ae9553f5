// Package provider defines the object storage surface used by the job pipeline.
//
// A Provider is bound to one storage area (an S3 bucket or a local directory).
// The core interface covers listing and metadata; whole-object transfer,
// conditional writes and URL signing are optional capabilities detected with
// type assertions. Authentication uses SDK default credential chains unless
// explicit credentials are configured.
package provider

import (
	"context"
	"time"
)

// Provider abstracts listing and metadata operations on a single storage area.
//
// Implementations should:
//   - Use SDK default credential chains when no explicit credentials are set
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ReadWriter is a Provider that can also download and upload whole objects.
// Job metadata records and raw uploads require this surface.
type ReadWriter interface {
	Provider
	ObjectGetter
	ObjectPutter
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key (path) within the storage area.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag. Empty for providers without entity tags.
	ETag string

	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory used as a storage area.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType maps a configuration value to a ProviderType.
func ParseProviderType(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderS3, ProviderFile:
		return ProviderType(s), true
	default:
		return "", false
	}
}
