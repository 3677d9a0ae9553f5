package preflight_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/geneflow/pkg/output"
	"github.com/3leaps/geneflow/pkg/preflight"
	"github.com/3leaps/geneflow/pkg/provider"
	"github.com/3leaps/geneflow/pkg/provider/file"
)

// stubProvider answers every listing and denies what its flags say.
type stubProvider struct {
	listErr      error
	multipartErr error
	aborted      []string
}

func (p *stubProvider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return &provider.ListResult{}, nil
}

func (p *stubProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return nil, provider.ErrNotFound
}

func (p *stubProvider) Close() error {
	return nil
}

func (p *stubProvider) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if p.multipartErr != nil {
		return "", p.multipartErr
	}
	return "upload-1", nil
}

func (p *stubProvider) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	p.aborted = append(p.aborted, key)
	return nil
}

// signingArea adds offline URL signing to a local directory.
type signingArea struct {
	*file.Provider
}

func (a signingArea) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (a signingArea) PresignPut(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func newArea(t *testing.T) *file.Provider {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return p
}

func result(t *testing.T, rec *output.PreflightRecord, capability string) output.PreflightCheckResult {
	t.Helper()
	for _, r := range rec.Results {
		if r.Capability == capability {
			return r
		}
	}
	t.Fatalf("no result for %s in %+v", capability, rec.Results)
	return output.PreflightCheckResult{}
}

func TestWriteProbe_MultipartAbort_Denied_Unit(t *testing.T) {
	p := &stubProvider{multipartErr: provider.ErrAccessDenied}

	rec, err := preflight.WriteProbe(context.Background(), "results", p, preflight.Spec{
		ProbeStrategy: preflight.ProbeMultipartAbort,
		ProbePrefix:   "_geneflow/probe/",
	})
	require.Error(t, err)
	require.NotNil(t, rec)

	r := result(t, rec, "results.write")
	assert.False(t, r.Allowed)
	assert.Equal(t, "CreateMultipartUpload+Abort", r.Method)
	assert.Equal(t, output.ErrCodeAccessDenied, r.ErrorCode)
	assert.Equal(t, string(preflight.ModeWriteProbe), rec.Mode)
}

func TestWriteProbe_MultipartAbort_Allowed_Unit(t *testing.T) {
	p := &stubProvider{}

	rec, err := preflight.WriteProbe(context.Background(), "raw", p, preflight.Spec{ProbeStrategy: preflight.ProbeMultipartAbort})
	require.NoError(t, err)

	assert.True(t, result(t, rec, "raw.write").Allowed)
	require.Len(t, p.aborted, 1)
	assert.Contains(t, p.aborted[0], preflight.DefaultProbePrefix+"write-")
	assert.Equal(t, preflight.DefaultProbePrefix, rec.ProbePrefix)
}

func TestWriteProbe_MultipartUnsupported(t *testing.T) {
	rec, err := preflight.WriteProbe(context.Background(), "raw", newArea(t), preflight.Spec{ProbeStrategy: preflight.ProbeMultipartAbort})
	require.ErrorIs(t, err, provider.ErrUnsupported)
	assert.Equal(t, output.ErrCodeUnsupported, result(t, rec, "raw.write").ErrorCode)
}

func TestWriteProbe_PutDelete_CleansUp(t *testing.T) {
	area := newArea(t)

	rec, err := preflight.WriteProbe(context.Background(), "raw", area, preflight.Spec{
		ProbeStrategy: preflight.ProbePutDelete,
		ProbePrefix:   "_geneflow/probe/",
	})
	require.NoError(t, err)
	r := result(t, rec, "raw.write")
	assert.True(t, r.Allowed)
	assert.Equal(t, "PutObject+DeleteObject", r.Method)

	page, err := area.List(context.Background(), provider.ListOptions{Prefix: "_geneflow/probe/"})
	require.NoError(t, err)
	assert.Empty(t, page.Objects)
}

func TestWriteProbe_UnknownStrategy(t *testing.T) {
	_, err := preflight.WriteProbe(context.Background(), "raw", newArea(t), preflight.Spec{ProbeStrategy: "rsync"})
	assert.ErrorContains(t, err, "unknown probe strategy")
}

func TestAreas_PlanOnly(t *testing.T) {
	p := &stubProvider{listErr: provider.ErrAccessDenied}

	rec, err := preflight.Areas(context.Background(), []preflight.Target{{Name: "raw", Provider: p}}, preflight.Spec{Mode: preflight.ModePlanOnly})
	require.NoError(t, err)
	assert.Empty(t, rec.Results)
}

func TestAreas_ReadSafe(t *testing.T) {
	raw := signingArea{newArea(t)}
	refs := signingArea{newArea(t)}

	rec, err := preflight.Areas(context.Background(), []preflight.Target{
		{Name: "raw", Provider: raw, Checks: []string{preflight.CapRead, preflight.CapSign, preflight.CapWrite}},
		{Name: "refs", Provider: refs, Checks: []string{preflight.CapSign}},
	}, preflight.Spec{Mode: preflight.ModeReadSafe})
	require.NoError(t, err)

	var names []string
	for _, r := range rec.Results {
		assert.True(t, r.Allowed, r.Capability)
		names = append(names, r.Capability)
	}
	// write is only probed in write-probe mode
	assert.Equal(t, []string{"raw.list", "raw.read", "raw.sign", "refs.list", "refs.sign"}, names)
	assert.Empty(t, rec.ProbeStrategy)
}

func TestAreas_WriteProbe(t *testing.T) {
	raw := newArea(t)

	rec, err := preflight.Areas(context.Background(), []preflight.Target{
		{Name: "raw", Provider: raw, Checks: []string{preflight.CapWrite}},
	}, preflight.Spec{Mode: preflight.ModeWriteProbe, ProbeStrategy: preflight.ProbePutDelete})
	require.NoError(t, err)

	assert.True(t, result(t, rec, "raw.write").Allowed)
	assert.Equal(t, "put-delete", rec.ProbeStrategy)
}

func TestAreas_ContinuesAfterFailure(t *testing.T) {
	denied := &stubProvider{listErr: &provider.ProviderError{Op: "List", Provider: provider.ProviderS3, Bucket: "references", Err: provider.ErrAccessDenied}}
	unsigned := newArea(t)

	rec, err := preflight.Areas(context.Background(), []preflight.Target{
		{Name: "refs", Provider: denied, Checks: []string{preflight.CapSign}},
		{Name: "results", Provider: unsigned, Checks: []string{preflight.CapSign}},
	}, preflight.Spec{Mode: preflight.ModeReadSafe})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
	assert.ErrorIs(t, err, provider.ErrUnsupported)
	assert.Contains(t, err.Error(), "refs area")
	assert.Contains(t, err.Error(), "results area")

	list := result(t, rec, "refs.list")
	assert.False(t, list.Allowed)
	assert.Equal(t, output.ErrCodeAccessDenied, list.ErrorCode)

	// a failed listing ends the checks of that area
	for _, r := range rec.Results {
		assert.NotEqual(t, "refs.sign", r.Capability)
	}

	assert.True(t, result(t, rec, "results.list").Allowed)
	sign := result(t, rec, "results.sign")
	assert.False(t, sign.Allowed)
	assert.Equal(t, output.ErrCodeUnsupported, sign.ErrorCode)
	assert.Len(t, rec.Denied(), 2)
}

func TestAreas_ReadDenied(t *testing.T) {
	rec, err := preflight.Areas(context.Background(), []preflight.Target{
		{Name: "raw", Provider: &stubProvider{}, Checks: []string{preflight.CapRead}},
	}, preflight.Spec{Mode: preflight.ModeReadSafe})
	require.ErrorIs(t, err, provider.ErrUnsupported)
	assert.False(t, result(t, rec, "raw.read").Allowed)
}

func TestAreas_UnknownCapability(t *testing.T) {
	_, err := preflight.Areas(context.Background(), []preflight.Target{
		{Name: "raw", Provider: newArea(t), Checks: []string{"delete"}},
	}, preflight.Spec{Mode: preflight.ModeReadSafe})
	assert.ErrorContains(t, err, `unknown capability "delete"`)
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"plan-only", "read-safe", "write-probe"} {
		m, err := preflight.ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, preflight.Mode(s), m)
	}
	_, err := preflight.ParseMode("yolo")
	assert.Error(t, err)

	p, err := preflight.ParseProbeStrategy("put-delete")
	require.NoError(t, err)
	assert.Equal(t, preflight.ProbePutDelete, p)
	_, err = preflight.ParseProbeStrategy("copy")
	assert.Error(t, err)
}

func TestCapability(t *testing.T) {
	assert.Equal(t, "results.sign", preflight.Capability("results", preflight.CapSign))
}
