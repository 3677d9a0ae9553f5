package provider

import (
	"context"
	"io"
	"time"
)

// Optional provider capability interfaces.
//
// Callers detect these with type assertions; the core Provider interface
// stays small so that test doubles remain cheap to write.

// ObjectPutter can create or overwrite objects.
//
// A negative contentLength means the length is unknown.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can delete objects. Deleting a missing object is not an error.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ObjectGetter can download objects as a stream.
// The caller must close the returned body.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// MultipartUploader can create and abort multipart uploads.
//
// Used as a low-side-effect write probe during preflight.
type MultipartUploader interface {
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// ConditionalWriter supports optimistic concurrency on single objects.
//
// GetObjectETag returns the body together with the entity tag it was read at.
// PutObjectIfMatch writes only while the stored entity tag still equals etag;
// an empty etag means "create only if absent". Both conditions fail with
// ErrPreconditionFailed.
type ConditionalWriter interface {
	GetObjectETag(ctx context.Context, key string) (body io.ReadCloser, etag string, err error)
	PutObjectIfMatch(ctx context.Context, key string, body io.Reader, contentLength int64, etag string) error
}

// URLSigner issues time-limited URLs that grant a single operation on a
// single object without further credentials.
type URLSigner interface {
	// PresignGet returns a read-only URL for key valid for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PresignPut returns a write-only URL for key valid for ttl.
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}
