package memory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultContextConfig(t *testing.T) {
	cfg := DefaultContextConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32000, cfg.MaxContextSize)
	assert.Equal(t, 128000, cfg.WorkingMemorySize)
	assert.Equal(t, CompressionAdaptive, cfg.CompressionStrategy)
	assert.Equal(t, 0.3, cfg.CompressionTargetRatio)
	assert.Equal(t, RetrievalHybrid, cfg.RetrievalStrategy)
	assert.Equal(t, 20, cfg.MaxRetrievalResults)
	assert.Equal(t, 60, cfg.CleanupIntervalMinutes)
	assert.True(t, cfg.MetricsEnabled)
}

func TestContextConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ContextConfig)
	}{
		{"zero context size", func(c *ContextConfig) { c.MaxContextSize = 0 }},
		{"negative working size", func(c *ContextConfig) { c.WorkingMemorySize = -1 }},
		{"ratio above one", func(c *ContextConfig) { c.CompressionTargetRatio = 1.5 }},
		{"zero ratio", func(c *ContextConfig) { c.CompressionTargetRatio = 0 }},
		{"zero results", func(c *ContextConfig) { c.MaxRetrievalResults = 0 }},
		{"negative interval", func(c *ContextConfig) { c.CleanupIntervalMinutes = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultContextConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSegmentIDDeterministic(t *testing.T) {
	at := time.Date(2025, 5, 5, 5, 5, 5, 5, time.UTC)

	assert.Equal(t, segmentID("content", at, 1), segmentID("content", at, 1))
	assert.NotEqual(t, segmentID("content", at, 1), segmentID("content", at, 2))
	assert.NotEqual(t, segmentID("content", at, 1), segmentID("other", at, 1))
	assert.Len(t, segmentID("content", at, 1), 36)
}

func TestSegmentJSONUsesTimestampKey(t *testing.T) {
	seg := newSegment("text", nil, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), 1)
	raw, err := json.Marshal(seg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "2025-01-02T03:04:05Z", fields["timestamp"])
	assert.Equal(t, 1.0, fields["relevance_score"])
}
