package jobregistry

import (
	"strings"

	"github.com/google/uuid"
)

// Object names below a job id prefix.
const (
	InputName    = "input.fq.gz"
	MetadataName = "metadata.json"
	OutputName   = "output_result.xls.gz"
)

// InputKey is the raw-area key of the uploaded reads.
func InputKey(jobID string) string { return jobID + "/" + InputName }

// MetadataKey is the raw-area key of the job record.
func MetadataKey(jobID string) string { return jobID + "/" + MetadataName }

// OutputKey is the results-area key the compute task uploads to.
func OutputKey(jobID string) string { return jobID + "/" + OutputName }

// JobIDFromKey returns the first path segment of key.
func JobIDFromKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	id, _, _ := strings.Cut(key, "/")
	return id
}

// NewJobID returns a fresh random (version 4) UUID.
func NewJobID() string {
	return uuid.NewString()
}

// ValidJobID reports whether s is a canonical lower-case version 4 UUID.
func ValidJobID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.String() == s
}
