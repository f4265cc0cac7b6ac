package resilient

import "time"

// Config is the declarative configuration surface. Field tags match the keys
// read by the apiwatch CLI from YAML and environment. A zero ResponseCacheTTL
// leaves the response cache off.
type Config struct {
	BaseURL            string        `mapstructure:"base_url"`
	CallsPerSecond     float64       `mapstructure:"calls_per_second"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffCap         time.Duration `mapstructure:"backoff_cap"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	TokenRefreshBuffer time.Duration `mapstructure:"token_refresh_buffer"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollHistoryDepth   int           `mapstructure:"poll_history_depth"`
	ResponseCacheTTL   time.Duration `mapstructure:"response_cache_ttl"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CallsPerSecond:     0, // no rate limiting
		MaxRetries:         3,
		BackoffBase:        500 * time.Millisecond,
		BackoffCap:         30 * time.Second,
		RequestTimeout:     30 * time.Second,
		TokenRefreshBuffer: DefaultTokenRefreshBuffer,
		PollInterval:       time.Minute,
		PollHistoryDepth:   DefaultHistoryDepth,
		ResponseCacheTTL:   0, // caching off
	}
}
