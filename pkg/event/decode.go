package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2/event"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

// MaxBodyBytes bounds the size of a notification payload read from HTTP.
const MaxBodyBytes = 1 << 20

// SubscriptionValidationType is the Event Grid handshake event type.
const SubscriptionValidationType = "Microsoft.EventGrid.SubscriptionValidationEvent"

// S3Account is the account host used for object URLs synthesized from S3
// notifications, which carry a bucket and key but no URL.
const S3Account = "s3.amazonaws.com"

// ErrMalformedPayload reports a notification body that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed event payload")

// Batch is the decoded content of one delivery.
type Batch struct {
	Events []StorageEvent

	// ValidationCode is set when the delivery is an Event Grid subscription
	// handshake; it must be echoed back as validationResponse.
	ValidationCode string
}

// DecodeRequest decodes an HTTP delivery. CloudEvents in binary, structured
// or batch mode are read with the CloudEvents SDK; any other body is passed
// to DecodeJSON.
func DecodeRequest(r *http.Request) (*Batch, error) {
	if isCloudEvents(r.Header) {
		var ces []cloudevents.Event
		if cehttp.IsHTTPBatch(r.Header) {
			evs, err := cehttp.NewEventsFromHTTPRequest(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			ces = evs
		} else {
			ev, err := cehttp.NewEventFromHTTPRequest(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			ces = []cloudevents.Event{*ev}
		}
		return fromCloudEvents(ces)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read event body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, MaxBodyBytes)
	}
	return DecodeJSON(body)
}

func isCloudEvents(h http.Header) bool {
	if h.Get("Ce-Specversion") != "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "application/cloudevents")
}

// DecodeJSON decodes a JSON notification: an Event Grid event or array, an S3
// bucket notification ({"Records": [...]}), an EventBridge event, or a
// structured CloudEvent or array of them.
func DecodeJSON(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	batch := &Batch{}
	for i, raw := range raws {
		if err := decodeOne(raw, batch); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return batch, nil
}

// envelope sniffs which schema an object uses.
type envelope struct {
	SpecVersion string     `json:"specversion"`
	Records     []s3Record `json:"Records"`
	DetailType  string     `json:"detail-type"`
	EventType   string     `json:"eventType"`
}

func decodeOne(raw json.RawMessage, batch *Batch) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case env.SpecVersion != "":
		var ce cloudevents.Event
		if err := json.Unmarshal(raw, &ce); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev, err := FromCloudEvent(ce)
		if err != nil {
			return err
		}
		batch.Events = append(batch.Events, ev)
	case env.Records != nil:
		for _, rec := range env.Records {
			ev, err := rec.storageEvent()
			if err != nil {
				return err
			}
			batch.Events = append(batch.Events, ev)
		}
	case env.DetailType != "":
		var eb eventBridgeEvent
		if err := json.Unmarshal(raw, &eb); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if eb.Detail.Bucket.Name == "" || eb.Detail.Object.Key == "" {
			return fmt.Errorf("%w: eventbridge event %s has no bucket or key", ErrMalformedPayload, eb.ID)
		}
		batch.Events = append(batch.Events, StorageEvent{
			ID:      eb.ID,
			Type:    eb.DetailType,
			Subject: eb.Detail.Object.Key,
			Time:    eb.Time,
			URL:     ObjectURL(S3Account, eb.Detail.Bucket.Name, eb.Detail.Object.Key),
		})
	case env.EventType != "":
		var eg eventGridEvent
		if err := json.Unmarshal(raw, &eg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if eg.EventType == SubscriptionValidationType {
			batch.ValidationCode = eg.Data.ValidationCode
			return nil
		}
		batch.Events = append(batch.Events, StorageEvent{
			ID:      eg.ID,
			Type:    eg.EventType,
			Subject: eg.Subject,
			Time:    eg.EventTime,
			URL:     eg.Data.URL,
		})
	default:
		return fmt.Errorf("%w: unrecognized event schema", ErrMalformedPayload)
	}
	return nil
}

// FromCloudEvent converts a CloudEvent whose data carries either a url or an
// S3-style bucket/object pair.
func FromCloudEvent(ce cloudevents.Event) (StorageEvent, error) {
	ev := StorageEvent{
		ID:      ce.ID(),
		Type:    ce.Type(),
		Subject: ce.Subject(),
		Time:    ce.Time(),
	}
	if len(ce.Data()) == 0 {
		return ev, fmt.Errorf("%w: cloudevent %s has no data", ErrMalformedPayload, ce.ID())
	}
	var d objectData
	if err := ce.DataAs(&d); err != nil {
		return ev, fmt.Errorf("%w: cloudevent %s data: %v", ErrMalformedPayload, ce.ID(), err)
	}
	ev.URL = d.objectURL()
	return ev, nil
}

func fromCloudEvents(ces []cloudevents.Event) (*Batch, error) {
	batch := &Batch{}
	for _, ce := range ces {
		ev, err := FromCloudEvent(ce)
		if err != nil {
			return nil, err
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

// objectData covers the data shapes that name an object.
type objectData struct {
	URL    string `json:"url"`
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

func (d objectData) objectURL() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Bucket.Name != "" && d.Object.Key != "" {
		return ObjectURL(S3Account, d.Bucket.Name, d.Object.Key)
	}
	return ""
}

type eventGridEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	Subject   string    `json:"subject"`
	EventTime time.Time `json:"eventTime"`
	Data      struct {
		URL            string `json:"url"`
		ValidationCode string `json:"validationCode"`
	} `json:"data"`
}

type eventBridgeEvent struct {
	ID         string     `json:"id"`
	DetailType string     `json:"detail-type"`
	Time       time.Time  `json:"time"`
	Detail     objectData `json:"detail"`
}

type s3Record struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}

func (r s3Record) storageEvent() (StorageEvent, error) {
	// Keys in S3 notifications are form-encoded.
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return StorageEvent{}, fmt.Errorf("%w: object key %q: %v", ErrMalformedPayload, r.S3.Object.Key, err)
	}
	if r.S3.Bucket.Name == "" || key == "" {
		return StorageEvent{}, fmt.Errorf("%w: s3 record has no bucket or key", ErrMalformedPayload)
	}
	typ := r.EventName
	if !strings.HasPrefix(typ, "s3:") {
		typ = "s3:" + typ
	}
	return StorageEvent{
		ID:      r.S3.Bucket.Name + "/" + key + "@" + r.S3.Object.Sequencer,
		Type:    typ,
		Subject: key,
		Time:    r.EventTime,
		URL:     ObjectURL(S3Account, r.S3.Bucket.Name, key),
	}, nil
}
