package config

type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"oneof=json text"`
	AddSource bool   `yaml:"add_source"`

	// RedactPatterns are extra regular expressions scrubbed from log values.
	RedactPatterns []string `yaml:"redact_patterns"`
}

func (c *LoggingConfig) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig exposes Prometheus metrics on Addr. Empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure       bool    `yaml:"insecure"`
}

func (c *ObservabilityConfig) applyDefaults() {
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatia"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1
	}
}
