package config

import (
	"fmt"
	"strings"

	"github.com/3leaps/geneflow/pkg/pipeline"
)

// MissingError names every required setting that is not configured.
type MissingError struct {
	Handler  string
	Settings []string
}

func (e *MissingError) Error() string {
	names := make([]string, 0, len(e.Settings))
	for _, s := range e.Settings {
		names = append(names, fmt.Sprintf("%s (%s)", s, EnvName(s)))
	}
	return fmt.Sprintf("missing required settings for %s: %s", e.Handler, strings.Join(names, ", "))
}

func missing(handler string, settings []string) error {
	if len(settings) == 0 {
		return nil
	}
	return &MissingError{Handler: handler, Settings: settings}
}

// Validate runs the validator of h.
func (c *Config) Validate(h pipeline.Handler) error {
	switch h {
	case pipeline.HandlerIntake:
		return c.ValidateIntake()
	case pipeline.HandlerSubmission:
		return c.ValidateSubmission()
	case pipeline.HandlerNotification:
		return c.ValidateNotification()
	}
	return fmt.Errorf("unknown handler %q", h)
}

// ValidateIntake checks the settings the intake handler needs.
func (c *Config) ValidateIntake() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	return missing(string(pipeline.HandlerIntake), c.storageMissing())
}

// ValidateSubmission checks the settings the submission handler needs.
func (c *Config) ValidateSubmission() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	m := c.storageMissing()
	if c.Batch.PoolID == "" {
		m = append(m, "batch.pool_id")
	}
	if c.Batch.JobDefinition == "" {
		m = append(m, "batch.job_definition")
	}
	if (c.Batch.AccountName == "") != (c.Batch.AccountKey == "") {
		if c.Batch.AccountName == "" {
			m = append(m, "batch.account_name")
		} else {
			m = append(m, "batch.account_key")
		}
	}
	return missing(string(pipeline.HandlerSubmission), m)
}

// ValidateNotification checks the settings the notification handler needs.
func (c *Config) ValidateNotification() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	m := c.storageMissing()
	if c.Notify.SMTPHost == "" {
		m = append(m, "notify.smtp_host")
	}
	if c.Notify.FromEmail == "" {
		m = append(m, "notify.from_email")
	}
	if c.Notify.AdminEmail == "" {
		m = append(m, "notify.admin_email")
	}
	return missing(string(pipeline.HandlerNotification), m)
}

func (c *Config) validateStorage() error {
	switch c.Storage.Provider {
	case "", "s3", "file":
		return nil
	}
	return fmt.Errorf("storage.provider %q is not supported (want s3|file)", c.Storage.Provider)
}

func (c *Config) storageMissing() []string {
	var m []string
	switch c.Storage.Provider {
	case "":
		m = append(m, "storage.connection_string")
	case "file":
		if c.Storage.File.BaseDir == "" {
			m = append(m, "storage.file.base_dir")
		}
	case "s3":
		if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
			if c.Storage.S3.AccessKeyID == "" {
				m = append(m, "storage.s3.access_key_id")
			} else {
				m = append(m, "storage.s3.secret_access_key")
			}
		}
	}
	for _, s := range []struct{ key, value string }{
		{"storage.containers.raw", c.Storage.Containers.Raw},
		{"storage.containers.refs", c.Storage.Containers.Refs},
		{"storage.containers.results", c.Storage.Containers.Results},
	} {
		if s.value == "" {
			m = append(m, s.key)
		}
	}
	return m
}
