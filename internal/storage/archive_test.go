package storage

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Region:        "us-east-1",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "banners",
		PublicBaseURL: "https://cdn.example.com/",
	}
}

func TestNewArchiveValidation(t *testing.T) {
	for _, tc := range []struct {
		name  string
		strip func(*Config)
	}{
		{"bucket", func(c *Config) { c.Bucket = "" }},
		{"region", func(c *Config) { c.Region = "" }},
		{"credentials", func(c *Config) { c.SecretKey = "" }},
		{"public base url", func(c *Config) { c.PublicBaseURL = "" }},
	} {
		cfg := validConfig()
		tc.strip(&cfg)
		_, err := NewArchive(cfg)
		assert.Error(t, err, tc.name)
	}
}

func TestObjectKeyLayout(t *testing.T) {
	a, err := NewArchive(validConfig())
	require.NoError(t, err)

	key := a.objectKey(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^generations/2025/06/01/[0-9a-f-]{36}\.png$`), key)
}

func TestObjectKeyCustomPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Prefix = "/archive/out/"
	a, err := NewArchive(cfg)
	require.NoError(t, err)

	key := a.objectKey(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.True(t, len(key) > 0)
	assert.Regexp(t, regexp.MustCompile(`^archive/out/2025/12/31/`), key)
}

func TestPublicURLJoin(t *testing.T) {
	a, err := NewArchive(validConfig())
	require.NoError(t, err)

	url := a.publicURL("generations/2025/06/01/abc.png")
	assert.Equal(t, "https://cdn.example.com/generations/2025/06/01/abc.png", url)
}
