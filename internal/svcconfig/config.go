// Package svcconfig loads the ambient, daemon-level settings a deployment
// host needs regardless of which method or stages a given run selects:
// where the config service lives, where to relay report email, and
// whether tracing/metrics are enabled. This is distinct from the C6
// Option registry, which binds per-run method/stage flags (optionally
// from a JSON --config file); svcconfig is installed once per machine,
// the way the teacher's internal/spec loads function manifests from YAML.
package svcconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the ambient settings file, conventionally installed at
// /etc/dg/config.yaml.
type Config struct {
	// ConfigServiceURL is the default base URL for the host/group
	// inventory service InitHosts talks to, overridable per-run by -c.
	ConfigServiceURL string `yaml:"configServiceURL"`

	// SMTPRelay is the host:port of the local MTA send_report/SendReport
	// delivers through. Empty means "localhost:25".
	SMTPRelay string `yaml:"smtpRelay,omitempty"`

	// ArtifactStore optionally mirrors snapshot-pipeline output to an
	// S3-compatible bucket, wired to internal/artifactstore.
	ArtifactStore *ArtifactStoreConfig `yaml:"artifactStore,omitempty"`

	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// ArtifactStoreConfig configures the optional S3-compatible artifact
// mirror, grounded on spec.md §4.8 step 7's publish stage.
type ArtifactStoreConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// TracingConfig toggles the OpenTelemetry exporter, mirroring the
// teacher's observability.Config.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRate  float64 `yaml:"sampleRate,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
}

// MetricsConfig toggles the /metrics Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Default returns the settings used when no config file is present.
func Default() Config {
	return Config{
		ConfigServiceURL: "https://urgu.org/config",
		SMTPRelay:        "localhost:25",
		Tracing:          TracingConfig{Enabled: false, ServiceName: "dg"},
		Metrics:          MetricsConfig{Enabled: false, Listen: ":9090"},
	}
}

// Load reads and parses the YAML config at path. A missing file is not an
// error: Default() is returned unchanged, since the ambient config is
// optional on any given machine.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("svcconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("svcconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
