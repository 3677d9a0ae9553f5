// Package config loads the typed service configuration.
//
// Values come from built-in defaults, an optional YAML file, GENEFLOW_*
// environment variables (plus the variable names of earlier deployments) and
// runtime overrides, in increasing order of precedence. Connection strings
// are parsed into typed fields once, at load time.
package config

import (
	"time"

	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/taskplan"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Events   EventsConfig   `mapstructure:"events"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is the sustained request rate per second accepted on the
	// intake and event routes. Zero disables throttling.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ReadyTimeout bounds the storage checks run by /health/ready.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// StorageConfig selects the object store backing the three areas.
type StorageConfig struct {
	// Provider is "s3" or "file".
	Provider string `mapstructure:"provider"`

	// ConnectionString is a semicolon separated key=value list, e.g.
	// "Provider=s3;Region=eu-west-1;AccessKeyId=...;SecretAccessKey=...".
	// Keys it sets fill fields left empty.
	ConnectionString string `mapstructure:"connection_string"`

	S3   S3Config   `mapstructure:"s3"`
	File FileConfig `mapstructure:"file"`

	Containers ContainersConfig `mapstructure:"containers"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// PartSize is the multipart part size in bytes for large or streamed
	// uploads. Zero uses the provider default.
	PartSize int64 `mapstructure:"part_size"`
}

type FileConfig struct {
	// BaseDir holds one directory per container.
	BaseDir string `mapstructure:"base_dir"`
	Create  bool   `mapstructure:"create"`
}

type ContainersConfig struct {
	Raw     string `mapstructure:"raw"`
	Refs    string `mapstructure:"refs"`
	Results string `mapstructure:"results"`
}

// BatchConfig configures the compute service. The account fields carry the
// names of the original deployment: account name and key are the access key
// pair, the account URL is the service endpoint.
type BatchConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	AccountURL  string `mapstructure:"account_url"`
	Region      string `mapstructure:"region"`
	Profile     string `mapstructure:"profile"`

	PoolID        string `mapstructure:"pool_id"`
	JobDefinition string `mapstructure:"job_definition"`

	InputURLTTL  time.Duration `mapstructure:"input_url_ttl"`
	OutputURLTTL time.Duration `mapstructure:"output_url_ttl"`
}

type NotifyConfig struct {
	// ConnectionString is "endpoint=smtp://host:port;username=...;password=...".
	ConnectionString string `mapstructure:"connection_string"`

	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	StartTLS bool   `mapstructure:"starttls"`

	FromEmail  string `mapstructure:"from_email"`
	AdminEmail string `mapstructure:"admin_email"`

	ResultURLTTL time.Duration `mapstructure:"result_url_ttl"`
}

type EventsConfig struct {
	// AllowedOrigins are the webhook origins accepted in the CloudEvents
	// handshake. Empty accepts any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PipelineConfig struct {
	ReferencePrefix   string          `mapstructure:"reference_prefix"`
	ReferencePatterns []string        `mapstructure:"reference_patterns"`
	WorkDirEnv        string          `mapstructure:"work_dir_env"`
	WorkDir           string          `mapstructure:"work_dir"`
	Toolchain         ToolchainConfig `mapstructure:"toolchain"`
}

type ToolchainConfig struct {
	Threads        int    `mapstructure:"threads"`
	SeedLength     int    `mapstructure:"seed_length"`
	SortMemory     string `mapstructure:"sort_memory"`
	ReferenceFasta string `mapstructure:"reference_fasta"`
}

// PipelineSettings returns the handler settings derived from c.
func (c *Config) PipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		Containers: pipeline.Containers{
			Raw:     c.Storage.Containers.Raw,
			Refs:    c.Storage.Containers.Refs,
			Results: c.Storage.Containers.Results,
		},
		PoolID:            c.Batch.PoolID,
		AdminEmail:        c.Notify.AdminEmail,
		FromEmail:         c.Notify.FromEmail,
		InputURLTTL:       c.Batch.InputURLTTL,
		OutputURLTTL:      c.Batch.OutputURLTTL,
		ResultURLTTL:      c.Notify.ResultURLTTL,
		ReferencePrefix:   c.Pipeline.ReferencePrefix,
		ReferencePatterns: c.Pipeline.ReferencePatterns,
		WorkDirEnv:        c.Pipeline.WorkDirEnv,
		WorkDir:           c.Pipeline.WorkDir,
		Toolchain: taskplan.Toolchain{
			Threads:        c.Pipeline.Toolchain.Threads,
			SeedLength:     c.Pipeline.Toolchain.SeedLength,
			SortMemory:     c.Pipeline.Toolchain.SortMemory,
			ReferenceFasta: c.Pipeline.Toolchain.ReferenceFasta,
		},
	}
}

// Container returns the container name of area.
func (c *StorageConfig) Container(area pipeline.Area) string {
	switch area {
	case pipeline.AreaRaw:
		return c.Containers.Raw
	case pipeline.AreaRefs:
		return c.Containers.Refs
	case pipeline.AreaResults:
		return c.Containers.Results
	}
	return ""
}

// defaults are registered with viper before any other source. Durations are
// strings so that file and env values decode the same way.
func defaults() map[string]any {
	tc := taskplan.DefaultToolchain()
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.upload_timeout":   "1h",
		"server.shutdown_timeout": "10s",
		"server.rate_limit":       0.0,
		"server.rate_burst":       10,

		"logging.level":   "info",
		"logging.profile": "STRUCTURED",

		"health.enabled":       true,
		"health.ready_timeout": "5s",

		"storage.provider":             "",
		"storage.connection_string":    "",
		"storage.s3.endpoint":          "",
		"storage.s3.region":            "",
		"storage.s3.profile":           "",
		"storage.s3.access_key_id":     "",
		"storage.s3.secret_access_key": "",
		"storage.s3.force_path_style":  false,
		"storage.s3.part_size":         0,
		"storage.file.base_dir":        "",
		"storage.file.create":          false,
		"storage.containers.raw":       pipeline.DefaultRawContainer,
		"storage.containers.refs":      pipeline.DefaultRefsContainer,
		"storage.containers.results":   pipeline.DefaultResultsContainer,

		"batch.account_name":   "",
		"batch.account_key":    "",
		"batch.account_url":    "",
		"batch.region":         "",
		"batch.profile":        "",
		"batch.pool_id":        "",
		"batch.job_definition": "",
		"batch.input_url_ttl":  pipeline.DefaultInputURLTTL.String(),
		"batch.output_url_ttl": pipeline.DefaultOutputURLTTL.String(),

		"notify.connection_string": "",
		"notify.smtp_host":         "",
		"notify.smtp_port":         587,
		"notify.username":          "",
		"notify.password":          "",
		"notify.starttls":          true,
		"notify.from_email":        "",
		"notify.admin_email":       "",
		"notify.result_url_ttl":    pipeline.DefaultResultURLTTL.String(),

		"events.allowed_origins": []string{},

		"pipeline.reference_prefix":          "",
		"pipeline.reference_patterns":        []string{"**"},
		"pipeline.work_dir_env":              pipeline.DefaultWorkDirEnv,
		"pipeline.work_dir":                  pipeline.DefaultWorkDir,
		"pipeline.toolchain.threads":         tc.Threads,
		"pipeline.toolchain.seed_length":     tc.SeedLength,
		"pipeline.toolchain.sort_memory":     tc.SortMemory,
		"pipeline.toolchain.reference_fasta": tc.ReferenceFasta,
	}
}
