package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"https://example.com/a.xlsx", true},
		{"x", true},
		{"", false},
		{"   ", false},
	}

	for _, tt := range tests {
		err := ValidateRequired("fileUrl", tt.value)
		if tt.valid {
			assert.Nil(t, err, "ValidateRequired(%q)", tt.value)
			continue
		}
		require.NotNil(t, err, "ValidateRequired(%q)", tt.value)
		assert.Equal(t, "fileUrl", err.Field)
		assert.Equal(t, "fileUrl is required", err.Message)
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{ModeSync, ModeAsync, ModeAuto}

	assert.Nil(t, ValidateEnum("CONVERT_MODE", "auto", allowed))

	err := ValidateEnum("CONVERT_MODE", "later", allowed)
	require.NotNil(t, err)
	assert.Equal(t, "CONVERT_MODE must be one of: sync, async, auto", err.Message)
}

func TestConfig_DefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ModeAuto, cfg.ConvertMode)
	assert.Equal(t, ResponseBuffered, cfg.ResponseMode)
}

func TestConfig_ValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConvertMode = "eventually"
	cfg.ResponseMode = "telepathy"
	cfg.MaxConcurrentJobs = 0
	cfg.CacheTTL = -time.Second

	err := cfg.Validate()
	var problems ValidationErrors
	require.ErrorAs(t, err, &problems)
	assert.Len(t, problems, 4)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("CONVERT_MODE", "async")
	t.Setenv("RESPONSE_MODE", "streaming")
	t.Setenv("JOB_TTL", "10m")
	t.Setenv("CACHE_TTL", "0s")
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ModeAsync, cfg.ConvertMode)
	assert.Equal(t, ResponseStreaming, cfg.ResponseMode)
	assert.Equal(t, 10*time.Minute, cfg.JobTTL)
	assert.Zero(t, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.LogPretty)
}

func TestLoadConfig_RejectsMalformedValues(t *testing.T) {
	t.Setenv("JOB_TTL", "an hour")
	t.Setenv("MAX_CONCURRENT_JOBS", "many")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_TTL")
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_JOBS")
}
