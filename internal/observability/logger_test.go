package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		want    zapcore.Level
		wantErr bool
	}{
		{"structured info", "info", "STRUCTURED", zapcore.InfoLevel, false},
		{"default profile", "warn", "", zapcore.WarnLevel, false},
		{"console debug", "DEBUG", "console", zapcore.DebugLevel, false},
		{"bad level", "loud", "STRUCTURED", 0, true},
		{"bad profile", "info", "XML", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.level, tt.profile)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := Default()
	defer SetCLILogger(orig)

	InitCLILogger("geneflow", false)
	assert.False(t, Default().Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("geneflow", true)
	assert.True(t, Default().Core().Enabled(zapcore.DebugLevel))

	SetCLILogger(nil)
	assert.NotNil(t, Default())
}

func TestLoggerFromContext(t *testing.T) {
	orig := Default()
	defer SetCLILogger(orig)

	fallback := zap.NewExample()
	SetCLILogger(fallback)
	assert.Same(t, fallback, Logger(context.Background()))

	scoped := zap.NewNop()
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, Logger(ctx))
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
}
