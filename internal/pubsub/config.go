package pubsub

import (
	"github.com/caarlos0/env/v11"
)

// LoadTracingConfigFromEnv loads tracing configuration from the PUBSUB_TRACING_*
// environment variables, falling back to DefaultTracingConfig for unset keys.
func LoadTracingConfigFromEnv() (TracingConfig, error) {
	config := DefaultTracingConfig()
	if err := env.Parse(&config); err != nil {
		return DefaultTracingConfig(), err
	}
	return config, nil
}
