package config

import "time"

// Config holds the full runtime configuration for the proxy, decoded
// directly from the on-disk JSON document.
type Config struct {
	Server ServerConfig  `mapstructure:"server"`
	Proxies []ProxyConfig `mapstructure:"proxies"`

	LoadBalancingAlgorithm   string `mapstructure:"load_balancing_algorithm"`
	ConnectionTimeoutSecs    int    `mapstructure:"connection_timeout"`
	SocksConnectTimeoutSecs  int    `mapstructure:"socks_connect_timeout"`
	MaxRetries               int    `mapstructure:"max_retries"`
	HealthCheckIntervalSecs  int    `mapstructure:"health_check_interval"`
	RestCheckIntervalSecs    int    `mapstructure:"rest_check_interval"`
	OverloadBackoffBaseSecs  int    `mapstructure:"overload_backoff_base_secs"`
	SSLCert                  string `mapstructure:"ssl_cert"`
	SSLKey                   string `mapstructure:"ssl_key"`
	StatsIntervalSecs        int    `mapstructure:"stats_interval"`
	MonitoringIntervalSecs   int    `mapstructure:"monitoring_interval"`
	StatsLogIntervalSecs     int    `mapstructure:"stats_log_interval"`
	ConsoleStatsIntervalSecs int    `mapstructure:"console_stats_interval"`
	CompactConsoleStats      bool   `mapstructure:"compact_console_stats"`
	SessionPoolSize          int    `mapstructure:"session_pool_size"`
	WorkerPoolSize           int    `mapstructure:"worker_pool_size"`
	RawTunnelIdleTimeoutSecs int    `mapstructure:"raw_tunnel_idle_timeout"`

	Logging     LoggingConfig     `mapstructure:"logging"`
	Engineering EngineeringConfig `mapstructure:"engineering"`
}

// ServerConfig is the listener's bind address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ProxyConfig describes one upstream SOCKS5 proxy.
type ProxyConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LoggingConfig controls the structured logger and its sinks.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	FileOutput bool   `mapstructure:"file_output"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Theme      string `mapstructure:"theme"`
}

// EngineeringConfig controls development/debugging surfaces.
type EngineeringConfig struct {
	ShowNerdStats bool   `mapstructure:"show_nerdstats"`
	PprofAddr     string `mapstructure:"pprof_addr"`
}

func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSecs) * time.Second
}

// SocksConnectTimeout bounds the SOCKS5 CONNECT handshake to the
// upstream proxy — distinct from ConnectionTimeout, which governs
// per-upstream HTTP I/O once the tunnel is established.
func (c *Config) SocksConnectTimeout() time.Duration {
	return time.Duration(c.SocksConnectTimeoutSecs) * time.Second
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSecs) * time.Second
}

func (c *Config) RestCheckInterval() time.Duration {
	return time.Duration(c.RestCheckIntervalSecs) * time.Second
}

func (c *Config) OverloadBackoffBase() time.Duration {
	return time.Duration(c.OverloadBackoffBaseSecs) * time.Second
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSecs) * time.Second
}

func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalSecs) * time.Second
}

func (c *Config) StatsLogInterval() time.Duration {
	return time.Duration(c.StatsLogIntervalSecs) * time.Second
}

func (c *Config) ConsoleStatsInterval() time.Duration {
	return time.Duration(c.ConsoleStatsIntervalSecs) * time.Second
}

func (c *Config) RawTunnelIdleTimeout() time.Duration {
	return time.Duration(c.RawTunnelIdleTimeoutSecs) * time.Second
}
