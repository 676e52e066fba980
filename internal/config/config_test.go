package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKeys(t *testing.T) {
	assert.Nil(t, splitKeys(""))
	assert.Equal(t, []string{"a", "b"}, splitKeys("a,b"))
	assert.Equal(t, []string{"a", "b"}, splitKeys(" a , b , "))
}

func TestAuthDisabled(t *testing.T) {
	assert.True(t, Config{}.AuthDisabled())
	assert.False(t, Config{UseDBAuthentication: true}.AuthDisabled())
	assert.False(t, Config{AllowedKeys: []string{"k"}}.AuthDisabled())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("USE_DB_AUTHENTICATION", "true")
	t.Setenv("ALLOWED_KEYS", "")

	cfg := Load()
	assert.True(t, cfg.UseDBAuthentication)
	assert.Equal(t, ":3002", cfg.HTTPAddr)
	assert.Equal(t, 24, cfg.CrawlTTLHours)
	assert.False(t, cfg.AuthDisabled())
}
