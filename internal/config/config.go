package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server       ServerConfig
	Gateway      GatewayConfig
	Connectivity ConnectivityConfig
	Storage      StorageConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type GatewayConfig struct {
	BaseURL string
	Timeout string
}

type ConnectivityConfig struct {
	// ProbeURL is polled to decide whether the device is online. Empty means
	// the gateway base URL.
	ProbeURL     string
	Interval     string
	ForceOffline bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Gateway: GatewayConfig{
			BaseURL: "https://api.restful-api.dev",
			Timeout: "15s",
		},
		Connectivity: ConnectivityConfig{
			Interval: "5s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.devinv.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/devinv/config.json.
//
// Environment variables (DEVINV_*) override backend values on all platforms.
// The API token is a secret and is only read from DEVINV_API_TOKEN.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("missing required config: gateway.base_url")
	}
	if _, err := parsePositiveDuration(c.Gateway.Timeout); err != nil {
		return fmt.Errorf("invalid gateway.timeout: %w", err)
	}
	if _, err := parsePositiveDuration(c.Connectivity.Interval); err != nil {
		return fmt.Errorf("invalid connectivity.interval: %w", err)
	}
	return nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q is not positive", s)
	}
	return d, nil
}

// TimeoutDuration returns the gateway request timeout. Load has already
// validated it.
func (g GatewayConfig) TimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(g.Timeout)
	return d
}

// IntervalDuration returns the connectivity polling interval.
func (c ConnectivityConfig) IntervalDuration() time.Duration {
	d, _ := parsePositiveDuration(c.Interval)
	return d
}

// ProbeTarget returns the URL the connectivity sensor should poll.
func (c Config) ProbeTarget() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Gateway.BaseURL
}
