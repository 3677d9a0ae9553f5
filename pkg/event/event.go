// Package event decodes storage-creation notifications and routes them to
// the pipeline handlers.
//
// Azure Event Grid, S3 bucket notifications, EventBridge and CloudEvents
// payloads are all reduced to a StorageEvent whose URL names the new object.
package event

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/3leaps/geneflow/pkg/jobregistry"
)

// StorageEvent is a provider-neutral object-created notification.
type StorageEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Subject string    `json:"subject,omitempty"`
	Time    time.Time `json:"time,omitzero"`

	// URL is the object URL, https://<account>/<container>/<key>.
	URL string `json:"url"`
}

// ObjectRef locates an object inside a storage account.
type ObjectRef struct {
	Account   string
	Container string
	Key       string
}

// JobID returns the first segment of the key.
func (r ObjectRef) JobID() string {
	return jobregistry.JobIDFromKey(r.Key)
}

func (r ObjectRef) String() string {
	return r.Container + "/" + r.Key
}

// ErrMalformedURL reports an object URL that does not name a container and key.
var ErrMalformedURL = errors.New("malformed object url")

// ParseObjectURL splits https://<account>/<container>/<path...>.
func ParseObjectURL(raw string) (ObjectRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ObjectRef{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return ObjectRef{}, fmt.Errorf("%w: missing account host", ErrMalformedURL)
	}
	container, key, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if container == "" || key == "" {
		return ObjectRef{}, fmt.Errorf("%w: %q has no container and object path", ErrMalformedURL, raw)
	}
	return ObjectRef{Account: u.Host, Container: container, Key: key}, nil
}

// ObjectURL is the inverse of ParseObjectURL. The key is path-escaped.
func ObjectURL(account, container, key string) string {
	u := url.URL{Scheme: "https", Host: account, Path: "/" + container + "/" + key}
	return u.String()
}

// Object parses the event URL.
func (e StorageEvent) Object() (ObjectRef, error) {
	return ParseObjectURL(e.URL)
}

// IsObjectCreated reports whether typ names an object-created notification.
func IsObjectCreated(typ string) bool {
	switch {
	case typ == "Microsoft.Storage.BlobCreated":
		return true
	case typ == "Object Created":
		return true
	case strings.HasPrefix(typ, "s3:ObjectCreated:"), strings.HasPrefix(typ, "ObjectCreated:"):
		return true
	case strings.HasPrefix(typ, "com.amazonaws.s3.ObjectCreated"):
		return true
	}
	return false
}
