package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "psm-merge-test"})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	logger.WithContext(ctx).WithJob("job-1", "PREVIEW").Info().Int("progress", 40).Msg("Merging documents")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "psm-merge-test", entry["service"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "PREVIEW", entry["kind"])
	assert.Equal(t, float64(40), entry["progress"])
	assert.Equal(t, "Merging documents", entry["message"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "loud", Format: "json", Output: &buf})

	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.WithComponent("janitor").Info().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"janitor"`)
}
