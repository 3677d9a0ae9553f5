package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/geneflow/pkg/provider"
)

// PresignGet returns a SigV4 query-signed URL that allows reading key for ttl.
func (p *Provider) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := checkPresignTTL(ttl); err != nil {
		return "", &provider.ProviderError{Op: "PresignGet", Provider: provider.ProviderS3, Bucket: p.bucket, Key: key, Err: err}
	}
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", p.wrapError("PresignGet", key, err)
	}
	return req.URL, nil
}

// PresignPut returns a SigV4 query-signed URL that allows writing key for ttl.
// The holder may create or overwrite the object but cannot read it.
func (p *Provider) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := checkPresignTTL(ttl); err != nil {
		return "", &provider.ProviderError{Op: "PresignPut", Provider: provider.ProviderS3, Bucket: p.bucket, Key: key, Err: err}
	}
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", p.wrapError("PresignPut", key, err)
	}
	return req.URL, nil
}

func checkPresignTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("presign expiry must be positive, got %s", ttl)
	}
	if ttl > MaxPresignExpiry {
		return fmt.Errorf("presign expiry %s exceeds maximum %s", ttl, MaxPresignExpiry)
	}
	return nil
}
