package config

import "fmt"

// TracingConfig configures OpenTelemetry span export
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // host:port of an OTLP gRPC collector
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"` // 0.0 to 1.0
}

// SetDefaults fills the service name and sampling rate when tracing is enabled
func (c *TracingConfig) SetDefaults(serviceName string) {
	if !c.Enabled {
		return
	}
	if c.ServiceName == "" {
		c.ServiceName = serviceName
		fmt.Printf("Warning: tracing.service_name not set, defaulting to %s\n", c.ServiceName)
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// Validate checks the sampling rate
func (c *TracingConfig) Validate() error {
	if c.Enabled && (c.SamplingRate < 0 || c.SamplingRate > 1) {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	return nil
}
