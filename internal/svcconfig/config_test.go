package svcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
configServiceURL: https://config.internal/fleet
smtpRelay: mail.internal:25
artifactStore:
  enabled: true
  bucket: dg-snapshots
  prefix: snapshots/
  region: us-east-1
tracing:
  enabled: true
  exporter: otlp-http
  endpoint: localhost:4318
  serviceName: dg
metrics:
  enabled: true
  listen: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://config.internal/fleet", cfg.ConfigServiceURL)
	assert.Equal(t, "mail.internal:25", cfg.SMTPRelay)
	require.NotNil(t, cfg.ArtifactStore)
	assert.True(t, cfg.ArtifactStore.Enabled)
	assert.Equal(t, "dg-snapshots", cfg.ArtifactStore.Bucket)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
}
