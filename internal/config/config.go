package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete configuration for one gridserver
// process.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Server     ServerConfig     `yaml:"server"`
	Resources  []ResourceConfig `yaml:"resources"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Network    NetworkConfig    `yaml:"network"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Features   FeatureConfig    `yaml:"features"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	Zone        string `yaml:"zone"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	ProfilePort int    `yaml:"profile_port"`
	// ScratchDir holds cache replicas synthesized by the replication
	// engine's compound and bundle staging steps (spec §4.8 steps 2-3).
	ScratchDir string `yaml:"scratch_dir"`
}

// ServerConfig holds the forwarder's listen settings (spec §4.6/§4.7).
type ServerConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	ConnectionPoolSize int           `yaml:"connection_pool_size"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
}

// ResourceConfig declares one statically-configured resource (spec
// §4.2, C2).
type ResourceConfig struct {
	Name          string `yaml:"name"`
	Zone          string `yaml:"zone"`
	Host          string `yaml:"host"`
	Kind          string `yaml:"kind"` // matches model.DriverKind
	VaultPath     string `yaml:"vault_path"`
	Class         string `yaml:"class"` // matches model.ResourceClass
	Group         string `yaml:"group,omitempty"`
	GatewayAddr   string `yaml:"gateway_addr,omitempty"`
	MaxObjectSize int64  `yaml:"max_object_size,omitempty"`

	// S3-kind resources only. S3Prefix is not passed to the S3 driver.
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Region string `yaml:"s3_region,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
}

// CatalogConfig configures the bbolt-backed metadata store (spec
// §4.5, C6).
type CatalogConfig struct {
	Path           string        `yaml:"path"`
	SyncWrites     bool          `yaml:"sync_writes"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	QueryPageLimit int           `yaml:"query_page_limit"`
}

// NetworkConfig groups timeout, retry, and circuit-breaker settings
// shared by the driver, catalog, and forwarder suspension points
// (spec §5).
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig represents security settings.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig represents the forwarder's TLS posture for server-to-server
// connections (spec §4.6).
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// FeatureConfig holds feature flags for functionality the spec marks
// optional or staged.
type FeatureConfig struct {
	CrossZoneForwarding bool `yaml:"cross_zone_forwarding"`
	CompoundStaging     bool `yaml:"compound_staging"`
	ChecksumOnClose     bool `yaml:"checksum_on_close"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			Zone:        "tempZone",
			LogLevel:    "INFO",
			MetricsPort: 9090,
			HealthPort:  8081,
			ProfilePort: 6060,
			ScratchDir:  "/var/lib/gridserver/scratch",
		},
		Server: ServerConfig{
			ListenAddr:         ":1247",
			MaxConcurrency:     150,
			ConnectionPoolSize: 8,
			ShutdownGrace:      10 * time.Second,
		},
		Catalog: CatalogConfig{
			Path:           "/var/lib/gridserver/catalog.db",
			SyncWrites:     true,
			LockTimeout:    5 * time.Second,
			QueryPageLimit: 500,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				Enabled:            false,
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				CustomLabels: map[string]string{
					"service": "gridserver",
				},
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Features: FeatureConfig{
			CrossZoneForwarding: true,
			CompoundStaging:     true,
			ChecksumOnClose:     false,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays GRIDSERVER_* environment variables onto c.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("GRIDSERVER_ZONE"); val != "" {
		c.Global.Zone = val
	}
	if val := os.Getenv("GRIDSERVER_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("GRIDSERVER_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("GRIDSERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("GRIDSERVER_LISTEN_ADDR"); val != "" {
		c.Server.ListenAddr = val
	}
	if val := os.Getenv("GRIDSERVER_MAX_CONCURRENCY"); val != "" {
		if concurrency, err := strconv.Atoi(val); err == nil {
			c.Server.MaxConcurrency = concurrency
		}
	}
	if val := os.Getenv("GRIDSERVER_CATALOG_PATH"); val != "" {
		c.Catalog.Path = val
	}
	if val := os.Getenv("GRIDSERVER_TLS_ENABLED"); val != "" {
		c.Security.TLS.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("GRIDSERVER_CROSS_ZONE_FORWARDING"); val != "" {
		c.Features.CrossZoneForwarding = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Configuration) Validate() error {
	if c.Server.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be greater than 0")
	}
	if c.Server.ConnectionPoolSize <= 0 {
		return fmt.Errorf("connection_pool_size must be greater than 0")
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must be set")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource entry missing name")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate resource name: %s", r.Name)
		}
		seen[r.Name] = true
	}

	return nil
}
