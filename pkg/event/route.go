package event

import (
	"errors"
	"fmt"

	"github.com/3leaps/geneflow/pkg/match"
)

// ErrSkipped marks events a route does not handle.
var ErrSkipped = errors.New("event skipped")

// SkipError explains why an event was not routed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "event skipped: " + e.Reason }

func (e *SkipError) Unwrap() error { return ErrSkipped }

// Route accepts object-created events for one container whose key matches
// a set of glob patterns.
type Route struct {
	Container string
	keys      *match.Matcher
}

// NewRoute builds a route for container and key patterns.
func NewRoute(container string, patterns ...string) (*Route, error) {
	if container == "" {
		return nil, fmt.Errorf("route container is required")
	}
	m, err := match.Include(patterns...)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", container, err)
	}
	return &Route{Container: container, keys: m}, nil
}

// Match reports whether ref belongs to this route.
func (r *Route) Match(ref ObjectRef) bool {
	return ref.Container == r.Container && r.keys.Match(ref.Key)
}

// Accept returns the object named by ev, or a *SkipError when ev is not an
// object-created event, its URL is malformed, or the object is not routed here.
func (r *Route) Accept(ev StorageEvent) (ObjectRef, error) {
	if !IsObjectCreated(ev.Type) {
		return ObjectRef{}, &SkipError{Reason: fmt.Sprintf("event type %q is not object-created", ev.Type)}
	}
	ref, err := ev.Object()
	if err != nil {
		return ObjectRef{}, &SkipError{Reason: err.Error()}
	}
	if ref.Container != r.Container {
		return ref, &SkipError{Reason: fmt.Sprintf("container %q is not %q", ref.Container, r.Container)}
	}
	if !r.keys.Match(ref.Key) {
		return ref, &SkipError{Reason: fmt.Sprintf("object %q does not match %s", ref.Key, r.keys)}
	}
	return ref, nil
}
