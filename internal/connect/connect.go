// Package connect opens the storage areas, batch client and mail relay named
// by the service configuration.
package connect

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/3leaps/geneflow/internal/config"
	"github.com/3leaps/geneflow/pkg/batch"
	"github.com/3leaps/geneflow/pkg/batch/awsbatch"
	"github.com/3leaps/geneflow/pkg/notify"
	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/preflight"
	"github.com/3leaps/geneflow/pkg/provider"
	"github.com/3leaps/geneflow/pkg/provider/file"
	s3provider "github.com/3leaps/geneflow/pkg/provider/s3"
)

// Connector implements pipeline.Connector. Every call opens a fresh client;
// callers close storage when done.
type Connector struct {
	cfg *config.Config
}

var _ pipeline.Connector = (*Connector)(nil)

func New(cfg *config.Config) *Connector {
	return &Connector{cfg: cfg}
}

func (c *Connector) Validate(h pipeline.Handler) error {
	return c.cfg.Validate(h)
}

// Storage opens the container of area on the configured provider.
func (c *Connector) Storage(ctx context.Context, area pipeline.Area) (pipeline.Storage, error) {
	container := c.cfg.Storage.Container(area)
	if container == "" {
		return nil, fmt.Errorf("%s area has no container configured", area)
	}

	st := c.cfg.Storage
	switch provider.ProviderType(st.Provider) {
	case provider.ProviderS3:
		return s3provider.New(ctx, s3provider.Config{
			Bucket:          container,
			Region:          st.S3.Region,
			Endpoint:        st.S3.Endpoint,
			Profile:         st.S3.Profile,
			AccessKeyID:     st.S3.AccessKeyID,
			SecretAccessKey: st.S3.SecretAccessKey,
			ForcePathStyle:  st.S3.ForcePathStyle,
			PartSize:        st.S3.PartSize,
		})
	case provider.ProviderFile:
		return file.New(file.Config{
			BaseDir: filepath.Join(st.File.BaseDir, container),
			Create:  st.File.Create,
		})
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", st.Provider)
	}
}

// Batch returns an AWS Batch client. The account name and key act as the
// static key pair and the account URL as the service endpoint.
func (c *Connector) Batch(ctx context.Context) (batch.Client, error) {
	b := c.cfg.Batch
	return awsbatch.New(ctx, awsbatch.Config{
		Region:          b.Region,
		Endpoint:        b.AccountURL,
		Profile:         b.Profile,
		AccessKeyID:     b.AccountName,
		SecretAccessKey: b.AccountKey,
		JobDefinition:   b.JobDefinition,
	})
}

func (c *Connector) Mailer(context.Context) (notify.Sender, error) {
	n := c.cfg.Notify
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     n.SMTPHost,
		Port:     n.SMTPPort,
		Username: n.Username,
		Password: n.Password,
		StartTLS: n.StartTLS,
	})
}

// areaChecks are the capabilities each area needs beyond listing: intake
// writes raw inputs, submission signs raw, reference and result URLs, and
// notification signs result links.
var areaChecks = []struct {
	area   pipeline.Area
	checks []string
}{
	{pipeline.AreaRaw, []string{preflight.CapRead, preflight.CapSign, preflight.CapWrite}},
	{pipeline.AreaRefs, []string{preflight.CapSign}},
	{pipeline.AreaResults, []string{preflight.CapSign}},
}

// Targets opens every area for a preflight run. The returned function closes
// them. On error nothing is left open.
func (c *Connector) Targets(ctx context.Context) ([]preflight.Target, func(), error) {
	var opened []pipeline.Storage
	closeAll := func() {
		for _, s := range opened {
			_ = s.Close()
		}
	}

	targets := make([]preflight.Target, 0, len(areaChecks))
	for _, ac := range areaChecks {
		s, err := c.Storage(ctx, ac.area)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s area: %w", ac.area, err)
		}
		opened = append(opened, s)
		prefix := ""
		if ac.area == pipeline.AreaRefs {
			prefix = c.cfg.Pipeline.ReferencePrefix
		}
		targets = append(targets, preflight.Target{
			Name:     string(ac.area),
			Provider: s,
			Prefix:   prefix,
			Checks:   ac.checks,
		})
	}
	return targets, closeAll, nil
}
