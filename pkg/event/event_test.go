package event

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobID = "6ba7b810-9dad-41d1-80b4-00c04fd430c8"

func TestParseObjectURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    ObjectRef
		wantErr bool
	}{
		{
			raw:  "https://acct.blob.core.windows.net/rawsequences/" + jobID + "/input.fq.gz",
			want: ObjectRef{Account: "acct.blob.core.windows.net", Container: "rawsequences", Key: jobID + "/input.fq.gz"},
		},
		{
			raw:  "http://localhost:9000/results/a/b/c.xls.gz",
			want: ObjectRef{Account: "localhost:9000", Container: "results", Key: "a/b/c.xls.gz"},
		},
		{
			raw:  "https://s3.amazonaws.com/refs/hg38/chr%20Y.fa",
			want: ObjectRef{Account: "s3.amazonaws.com", Container: "refs", Key: "hg38/chr Y.fa"},
		},
		{raw: "", wantErr: true},
		{raw: "ftp://acct/raw/x", wantErr: true},
		{raw: "https:///raw/x", wantErr: true},
		{raw: "https://acct/raw", wantErr: true},
		{raw: "https://acct/raw/", wantErr: true},
		{raw: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseObjectURL(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectURLRoundTrip(t *testing.T) {
	raw := ObjectURL(S3Account, "refs", "hg38/chr Y.fa")
	assert.Equal(t, "https://s3.amazonaws.com/refs/hg38/chr%20Y.fa", raw)

	ref, err := ParseObjectURL(raw)
	require.NoError(t, err)
	assert.Equal(t, "hg38/chr Y.fa", ref.Key)
	assert.Equal(t, "hg38", ref.JobID())
	assert.Equal(t, "refs/hg38/chr Y.fa", ref.String())
}

func TestIsObjectCreated(t *testing.T) {
	for _, typ := range []string{
		"Microsoft.Storage.BlobCreated",
		"s3:ObjectCreated:Put",
		"ObjectCreated:CompleteMultipartUpload",
		"com.amazonaws.s3.ObjectCreated",
		"Object Created",
	} {
		assert.True(t, IsObjectCreated(typ), typ)
	}
	for _, typ := range []string{"", "Microsoft.Storage.BlobDeleted", "s3:ObjectRemoved:Delete", SubscriptionValidationType} {
		assert.False(t, IsObjectCreated(typ), typ)
	}
}

func TestRoute_Accept(t *testing.T) {
	route, err := NewRoute("rawsequences", "*/input.fq.gz")
	require.NoError(t, err)

	created := func(url string) StorageEvent {
		return StorageEvent{ID: "1", Type: "Microsoft.Storage.BlobCreated", URL: url}
	}

	ref, err := route.Accept(created("https://acct/rawsequences/" + jobID + "/input.fq.gz"))
	require.NoError(t, err)
	assert.Equal(t, jobID, ref.JobID())
	assert.True(t, route.Match(ref))

	skipped := []StorageEvent{
		{Type: "Microsoft.Storage.BlobDeleted", URL: "https://acct/rawsequences/" + jobID + "/input.fq.gz"},
		created("not a url"),
		created("https://acct/results/" + jobID + "/input.fq.gz"),
		created("https://acct/rawsequences/" + jobID + "/metadata.json"),
	}
	for _, ev := range skipped {
		_, err := route.Accept(ev)
		require.Error(t, err, ev.URL)
		assert.ErrorIs(t, err, ErrSkipped)
		var se *SkipError
		require.True(t, errors.As(err, &se))
		assert.NotEmpty(t, se.Reason)
	}

	_, err = NewRoute("", "**")
	assert.Error(t, err)
	_, err = NewRoute("results")
	assert.Error(t, err)
}

func TestDecodeJSON_EventGrid(t *testing.T) {
	body := `[{
		"id": "evt-1",
		"eventType": "Microsoft.Storage.BlobCreated",
		"subject": "/blobServices/default/containers/rawsequences/blobs/` + jobID + `/input.fq.gz",
		"eventTime": "2026-03-01T09:00:00Z",
		"data": {"api": "PutBlob", "url": "https://acct.blob.core.windows.net/rawsequences/` + jobID + `/input.fq.gz"},
		"dataVersion": "", "metadataVersion": "1"
	}]`

	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	ev := batch.Events[0]
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "Microsoft.Storage.BlobCreated", ev.Type)
	assert.Equal(t, 2026, ev.Time.Year())

	ref, err := ev.Object()
	require.NoError(t, err)
	assert.Equal(t, "rawsequences", ref.Container)
	assert.Empty(t, batch.ValidationCode)
}

func TestDecodeJSON_SubscriptionValidation(t *testing.T) {
	body := `{"id":"v","eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"512d38b6-c7b8-40c8-89fe-f46f9e9622b6"}}`
	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "512d38b6-c7b8-40c8-89fe-f46f9e9622b6", batch.ValidationCode)
	assert.Empty(t, batch.Events)
}

func TestDecodeJSON_S3Notification(t *testing.T) {
	body := `{"Records":[{
		"eventName": "ObjectCreated:Put",
		"eventTime": "2026-03-01T09:00:00.000Z",
		"s3": {"bucket": {"name": "results"}, "object": {"key": "` + jobID + `/output_result.xls.gz", "sequencer": "0A1B"}}
	}]}`

	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	ev := batch.Events[0]
	assert.Equal(t, "s3:ObjectCreated:Put", ev.Type)
	assert.True(t, IsObjectCreated(ev.Type))

	ref, err := ev.Object()
	require.NoError(t, err)
	assert.Equal(t, ObjectRef{Account: S3Account, Container: "results", Key: jobID + "/output_result.xls.gz"}, ref)
}

func TestDecodeJSON_S3KeyUnescaped(t *testing.T) {
	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"refs"},"object":{"key":"hg38/chr+Y%281%29.fa"}}}]}`
	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	ref, err := batch.Events[0].Object()
	require.NoError(t, err)
	assert.Equal(t, "hg38/chr Y(1).fa", ref.Key)
}

func TestDecodeJSON_EventBridge(t *testing.T) {
	body := `{"version":"0","id":"eb-1","detail-type":"Object Created","source":"aws.s3","time":"2026-03-01T09:00:00Z",
		"detail":{"bucket":{"name":"rawsequences"},"object":{"key":"` + jobID + `/input.fq.gz","size":4}}}`
	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "Object Created", batch.Events[0].Type)
	assert.Equal(t, "https://s3.amazonaws.com/rawsequences/"+jobID+"/input.fq.gz", batch.Events[0].URL)
}

func TestDecodeJSON_StructuredCloudEvent(t *testing.T) {
	body := `{"specversion":"1.0","id":"ce-1","source":"/subscriptions/x/storageAccounts/acct",
		"type":"Microsoft.Storage.BlobCreated","time":"2026-03-01T09:00:00Z",
		"datacontenttype":"application/json",
		"data":{"url":"https://acct/results/` + jobID + `/output_result.csv.gz"}}`
	batch, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "ce-1", batch.Events[0].ID)
	assert.Equal(t, "https://acct/results/"+jobID+"/output_result.csv.gz", batch.Events[0].URL)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	for _, body := range []string{"", "   ", "{", `{"hello":"world"}`, `[1,2]`, `{"Records":[{"s3":{}}]}`, `{"specversion":"1.0","id":"x","source":"s","type":"t"}`} {
		_, err := DecodeJSON([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}

func TestDecodeRequest_BinaryCloudEvent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events/submission",
		strings.NewReader(`{"bucket":{"name":"rawsequences"},"object":{"key":"`+jobID+`/input.fq.gz"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Id", "ce-bin")
	req.Header.Set("Ce-Source", "aws.s3")
	req.Header.Set("Ce-Type", "com.amazonaws.s3.ObjectCreated")

	batch, err := DecodeRequest(req)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "ce-bin", batch.Events[0].ID)
	assert.Equal(t, "https://s3.amazonaws.com/rawsequences/"+jobID+"/input.fq.gz", batch.Events[0].URL)
}

func TestDecodeRequest_StructuredCloudEvent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events/notification", strings.NewReader(
		`{"specversion":"1.0","id":"ce-s","source":"s","type":"Microsoft.Storage.BlobCreated","datacontenttype":"application/json","data":{"url":"https://acct/results/`+jobID+`/output_result.xls.gz"}}`))
	req.Header.Set("Content-Type", "application/cloudevents+json; charset=utf-8")

	batch, err := DecodeRequest(req)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "ce-s", batch.Events[0].ID)
}

func TestDecodeRequest_PlainJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events/submission", strings.NewReader(
		`{"id":"e","eventType":"Microsoft.Storage.BlobCreated","data":{"url":"https://acct/rawsequences/`+jobID+`/input.fq.gz"}}`))
	req.Header.Set("Content-Type", "application/json")

	batch, err := DecodeRequest(req)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
}

func TestDecodeRequest_TooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events/submission", strings.NewReader(strings.Repeat(" ", MaxBodyBytes+10)))
	_, err := DecodeRequest(req)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
