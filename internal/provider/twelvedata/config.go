// Package twelvedata is a CandleSupplier over a Twelve Data style
// /time_series HTTP API.
package twelvedata

import "time"

// MaxOutputSize is the largest page the API serves.
const MaxOutputSize = 5000

// Config holds configuration for the API client.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerMinute caps outgoing calls; 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DefaultConfig matches the free API tier.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.twelvedata.com",
		Timeout:           10 * time.Second,
		RequestsPerMinute: 8,
	}
}
