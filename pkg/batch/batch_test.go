package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPool(t *testing.T) {
	pools := []Pool{{ID: "genomics-small"}, {ID: "genomics-large", State: "ENABLED"}}
	assert.True(t, HasPool(pools, "genomics-large"))
	assert.False(t, HasPool(pools, "genomics"))
	assert.False(t, HasPool(nil, "genomics-small"))
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "6ba7b810-task", TaskID("6ba7b810"))
}
