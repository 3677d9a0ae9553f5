// Package preflight checks that the configured storage areas grant the
// permissions the pipeline handlers rely on.
//
// Checks are staged by Mode. read-safe performs listing, a read of a random
// missing key and an offline URL signature; write-probe additionally proves
// write access with a low-side-effect probe under ProbePrefix.
package preflight

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/geneflow/pkg/output"
	"github.com/3leaps/geneflow/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModePlanOnly   Mode = "plan-only"
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePlanOnly, ModeReadSafe, ModeWriteProbe:
		return m, nil
	default:
		return "", fmt.Errorf("invalid preflight mode %q (want plan-only|read-safe|write-probe)", s)
	}
}

// ProbeStrategy selects a provider-specific write probe strategy.
type ProbeStrategy string

const (
	ProbeMultipartAbort ProbeStrategy = "multipart-abort"
	ProbePutDelete      ProbeStrategy = "put-delete"
)

// ParseProbeStrategy maps a flag value to a ProbeStrategy.
func ParseProbeStrategy(s string) (ProbeStrategy, error) {
	switch p := ProbeStrategy(s); p {
	case ProbeMultipartAbort, ProbePutDelete:
		return p, nil
	default:
		return "", fmt.Errorf("invalid probe strategy %q (want multipart-abort|put-delete)", s)
	}
}

// DefaultProbePrefix is where write probes place their temporary objects.
const DefaultProbePrefix = "_geneflow/probe/"

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode          Mode
	ProbeStrategy ProbeStrategy
	ProbePrefix   string
}

func (s Spec) probePrefix() string {
	if s.ProbePrefix == "" {
		return DefaultProbePrefix
	}
	return s.ProbePrefix
}

// Capability names are combined with the area name, e.g. "raw.list".
const (
	CapList  = "list"
	CapRead  = "read"
	CapSign  = "sign"
	CapWrite = "write"
)

// Capability returns the stable result name for cap on area.
func Capability(area, cap string) string {
	return area + "." + cap
}

// Target is one storage area and the capabilities required of it.
type Target struct {
	// Name is the area name used in capability results.
	Name string

	Provider provider.Provider

	// Prefix limits the listing check.
	Prefix string

	// Checks lists CapRead, CapSign or CapWrite. Listing is always checked.
	// CapWrite only runs in ModeWriteProbe.
	Checks []string
}

// Areas checks every target and returns one record covering all of them.
//
// A failed listing ends the checks of that target; the remaining targets are
// still checked. The returned error joins every failure.
func Areas(ctx context.Context, targets []Target, spec Spec) (*output.PreflightRecord, error) {
	rec := newRecord(spec)
	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	var errs []error
	for _, t := range targets {
		if err := checkTarget(ctx, rec, t, spec); err != nil {
			errs = append(errs, fmt.Errorf("%s area: %w", t.Name, err))
		}
	}
	return rec, errors.Join(errs...)
}

func checkTarget(ctx context.Context, rec *output.PreflightRecord, t Target, spec Spec) error {
	method := fmt.Sprintf("List(prefix=%q,maxKeys=1)", t.Prefix)
	if _, err := t.Provider.List(ctx, provider.ListOptions{Prefix: t.Prefix, MaxKeys: 1}); err != nil {
		rec.Results = append(rec.Results, denied(Capability(t.Name, CapList), method, err))
		return err
	}
	rec.Results = append(rec.Results, allowed(Capability(t.Name, CapList), method))

	var errs []error
	for _, c := range t.Checks {
		var (
			res output.PreflightCheckResult
			err error
		)
		switch c {
		case CapRead:
			res, err = readProbe(ctx, t.Name, t.Provider, spec)
		case CapSign:
			res, err = signProbe(ctx, t.Name, t.Provider, spec)
		case CapWrite:
			if spec.Mode != ModeWriteProbe {
				continue
			}
			res, err = writeProbe(ctx, t.Name, t.Provider, spec)
		default:
			return fmt.Errorf("unknown capability %q", c)
		}
		rec.Results = append(rec.Results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRecord(spec Spec) *output.PreflightRecord {
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}
	if spec.Mode == ModeWriteProbe {
		rec.ProbeStrategy = string(spec.ProbeStrategy)
		rec.ProbePrefix = spec.probePrefix()
	}
	return rec
}

func allowed(capability, method string) output.PreflightCheckResult {
	return output.PreflightCheckResult{Capability: capability, Allowed: true, Method: method}
}

func denied(capability, method string, err error) output.PreflightCheckResult {
	return output.PreflightCheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  normalizeErrorCode(err),
		Detail:     err.Error(),
	}
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case errors.Is(err, provider.ErrUnsupported):
		return output.ErrCodeUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}
