package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

const (
	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete

	envPrefix = "PLB"
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// applyDefaults fills in every optional key's default per the configuration
// schema, without touching keys the caller has already set.
func applyDefaults(c *Config) {
	if c.LoadBalancingAlgorithm == "" {
		c.LoadBalancingAlgorithm = "random"
	}
	if c.ConnectionTimeoutSecs == 0 {
		c.ConnectionTimeoutSecs = 5
	}
	if c.SocksConnectTimeoutSecs == 0 {
		c.SocksConnectTimeoutSecs = 15
	}
	if c.OverloadBackoffBaseSecs == 0 {
		c.OverloadBackoffBaseSecs = 30
	}
	if c.RestCheckIntervalSecs == 0 {
		c.RestCheckIntervalSecs = c.HealthCheckIntervalSecs / 6
		if c.RestCheckIntervalSecs == 0 {
			c.RestCheckIntervalSecs = 1
		}
	}
	if c.SSLCert == "" {
		c.SSLCert = "cert.pem"
	}
	if c.SSLKey == "" {
		c.SSLKey = "key.pem"
	}
	if c.StatsIntervalSecs == 0 {
		c.StatsIntervalSecs = 30
	}
	if c.MonitoringIntervalSecs == 0 {
		c.MonitoringIntervalSecs = 10
	}
	if c.StatsLogIntervalSecs == 0 {
		c.StatsLogIntervalSecs = 60
	}
	if c.ConsoleStatsIntervalSecs == 0 {
		c.ConsoleStatsIntervalSecs = 30
	}
	if c.SessionPoolSize == 0 {
		c.SessionPoolSize = 20
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = 500
	}
	if c.RawTunnelIdleTimeoutSecs == 0 {
		c.RawTunnelIdleTimeoutSecs = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Theme == "" {
		c.Logging.Theme = "default"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "./logs"
	}
}

// Validate checks that every required key is present and sane, returning a
// descriptive error (surfaced as ConfigInvalid) when it isn't.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if len(c.Proxies) == 0 {
		return fmt.Errorf("proxies must contain at least one upstream")
	}
	for i, p := range c.Proxies {
		if p.Host == "" {
			return fmt.Errorf("proxies[%d].host is required", i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("proxies[%d].port must be between 1 and 65535", i)
		}
	}
	if c.HealthCheckIntervalSecs <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	return nil
}

// Load reads the JSON configuration file (and environment overrides),
// applies defaults and validates the result. The file is always watched;
// when onConfigChange is set, each change is decoded, defaulted and
// validated into the returned Config before onConfigChange runs, and a
// payload that fails to decode or validate leaves the prior values in place.
func Load(onConfigChange func()) (*Config, error) {
	config := &Config{}

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv(envPrefix + "_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, domain.NewConfigInvalidError("invalid config", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate events
			}
			lastReload = now

			// the fsnotify event can fire before the writer has
			// finished flushing the new file contents
			time.Sleep(DefaultFileWriteDelay)
			fresh := &Config{}
			if err := viper.Unmarshal(fresh); err != nil {
				return
			}
			applyDefaults(fresh)
			if err := fresh.Validate(); err != nil {
				return // keep the prior config
			}
			*config = *fresh
			onConfigChange()
		})
	}

	return config, nil
}
