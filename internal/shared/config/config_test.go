package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 10*time.Minute, cfg.RenderTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrentRenders)
	assert.False(t, cfg.JobsEnabled)
	assert.True(t, cfg.FFmpegFastPresets)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JOBS_ENABLED", "yes")
	t.Setenv("RENDER_TIMEOUT", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("STORAGE_BACKEND", "s3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.JobsEnabled)
	assert.Equal(t, 90*time.Second, cfg.RenderTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
	assert.Equal(t, "s3", cfg.Storage.Backend)
}

func TestInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("PROBE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout)
}
