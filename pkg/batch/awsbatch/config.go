// Package awsbatch implements batch.Client on AWS Batch.
//
// Pools are job queues. AWS Batch has no job container, so a pipeline job is
// the set of Batch jobs whose name starts with the job id, and a task is a
// Batch job submitted with the configured job definition.
package awsbatch

// Config configures the AWS Batch client.
type Config struct {
	// Region is the AWS region. Empty uses the SDK default chain.
	Region string

	// Endpoint overrides the service endpoint (moto, LocalStack).
	Endpoint string

	Profile string

	// AccessKeyID and SecretAccessKey are optional static credentials.
	AccessKeyID     string
	SecretAccessKey string

	// JobDefinition is the name or ARN of the container job definition
	// tasks are submitted with (required).
	JobDefinition string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.JobDefinition == "" {
		return &ConfigError{Field: "JobDefinition", Message: "job definition is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "awsbatch config: " + e.Field + ": " + e.Message
}
