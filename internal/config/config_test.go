package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	doc := `
server:
  addr: ":9000"
upstream:
  base_url: "https://api.example.com/v3/football"
quota:
  capacity: 2000
cache:
  backend: redis
  redis_addr: "redis.internal:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	// explicit values survive
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, "https://api.example.com/v3/football", c.Upstream.BaseURL)
	assert.Equal(t, 2000, c.Quota.Capacity)
	assert.Equal(t, "redis", c.Cache.Backend)
	assert.Equal(t, "redis.internal:6379", c.Cache.RedisAddr)

	// omitted values are defaulted
	assert.Equal(t, "SPORTSGATE_API_KEY", c.Upstream.APIKeyEnvVar)
	assert.Equal(t, 3600, c.Quota.WindowSeconds)
	assert.Equal(t, 200, c.Quota.DegradeThreshold)
	assert.Equal(t, 1000, c.Backoff.BaseDelayMs)
	assert.Equal(t, 0.3, c.Backoff.JitterFraction)
	assert.Equal(t, "sportsgate", c.Cache.Namespace)
	assert.Equal(t, 3, c.Fetch.MaxAttempts)
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, ":8090", c.Server.Addr)
	assert.Equal(t, 3000, c.Quota.Capacity)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, 500, c.Alerts.LowRemainingWarning)
	assert.Equal(t, 200, c.Alerts.LowRemainingCritical)
	assert.Equal(t, 30, c.Fetch.AdmissionPatienceS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a: map"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
