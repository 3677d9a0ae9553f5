package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/geneflow/pkg/output"
	"github.com/3leaps/geneflow/pkg/provider"
)

// signProbeTTL is the lifetime of the URL signed by the sign check. The URL
// is never handed out.
const signProbeTTL = time.Minute

// WriteProbe proves write access to area with spec.ProbeStrategy.
//
// multipart-abort starts and aborts a multipart upload, so no object is ever
// visible. put-delete writes an empty object and deletes it again.
func WriteProbe(ctx context.Context, area string, p provider.Provider, spec Spec) (*output.PreflightRecord, error) {
	spec.Mode = ModeWriteProbe
	rec := newRecord(spec)
	res, err := writeProbe(ctx, area, p, spec)
	rec.Results = append(rec.Results, res)
	return rec, err
}

func writeProbe(ctx context.Context, area string, p provider.Provider, spec Spec) (output.PreflightCheckResult, error) {
	capability := Capability(area, CapWrite)
	key := joinPrefix(spec.probePrefix(), "write-"+uuid.NewString())

	switch spec.ProbeStrategy {
	case ProbeMultipartAbort, "":
		const method = "CreateMultipartUpload+Abort"
		mp, ok := p.(provider.MultipartUploader)
		if !ok {
			err := fmt.Errorf("multipart upload: %w", provider.ErrUnsupported)
			return denied(capability, method, err), err
		}
		uploadID, err := mp.CreateMultipartUpload(ctx, key)
		if err != nil {
			return denied(capability, method, err), err
		}
		if err := mp.AbortMultipartUpload(ctx, key, uploadID); err != nil {
			return denied(capability, method, err), err
		}
		return allowed(capability, method), nil

	case ProbePutDelete:
		const method = "PutObject+DeleteObject"
		putter, ok := p.(provider.ObjectPutter)
		if !ok {
			err := fmt.Errorf("put object: %w", provider.ErrUnsupported)
			return denied(capability, method, err), err
		}
		deleter, ok := p.(provider.ObjectDeleter)
		if !ok {
			err := fmt.Errorf("delete object: %w", provider.ErrUnsupported)
			return denied(capability, method, err), err
		}
		if err := putter.PutObject(ctx, key, strings.NewReader(""), 0); err != nil {
			return denied(capability, method, err), err
		}
		if err := deleter.DeleteObject(ctx, key); err != nil {
			return denied(capability, method, err), err
		}
		return allowed(capability, method), nil

	default:
		err := fmt.Errorf("unknown probe strategy %q", spec.ProbeStrategy)
		return denied(capability, string(spec.ProbeStrategy), err), err
	}
}

// readProbe reads a random missing key. Not found proves read access.
func readProbe(ctx context.Context, area string, p provider.Provider, spec Spec) (output.PreflightCheckResult, error) {
	const method = "GetObject(random)"
	capability := Capability(area, CapRead)

	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		err := fmt.Errorf("get object: %w", provider.ErrUnsupported)
		return denied(capability, method, err), err
	}
	key := joinPrefix(spec.probePrefix(), "read-"+uuid.NewString())
	body, _, err := getter.GetObject(ctx, key)
	if err == nil {
		_ = body.Close()
		return allowed(capability, method), nil
	}
	if provider.IsNotFound(err) {
		return allowed(capability, method), nil
	}
	return denied(capability, method, err), err
}

// signProbe signs a read URL offline. It proves the credentials can sign,
// not that the signed URL will be honored.
func signProbe(ctx context.Context, area string, p provider.Provider, spec Spec) (output.PreflightCheckResult, error) {
	method := fmt.Sprintf("PresignGet(random,ttl=%s)", signProbeTTL)
	capability := Capability(area, CapSign)

	signer, ok := p.(provider.URLSigner)
	if !ok {
		err := fmt.Errorf("signed urls: %w", provider.ErrUnsupported)
		return denied(capability, method, err), err
	}
	key := joinPrefix(spec.probePrefix(), "sign-"+uuid.NewString())
	if _, err := signer.PresignGet(ctx, key, signProbeTTL); err != nil {
		return denied(capability, method, err), err
	}
	return allowed(capability, method), nil
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" {
		return strings.TrimPrefix(suffix, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + "/" + strings.TrimPrefix(suffix, "/")
}
