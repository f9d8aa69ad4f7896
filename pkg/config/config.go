package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/health"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Healing   HealingConfig   `koanf:"healing"`
	Predict   PredictConfig   `koanf:"predict"`
	Storage   StorageConfig   `koanf:"storage"`
	Catalogs  CatalogConfig   `koanf:"catalogs"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type MonitorConfig struct {
	Interval   time.Duration     `koanf:"interval"`
	Retention  time.Duration     `koanf:"retention"`
	Components []string          `koanf:"components"`
	Thresholds health.Thresholds `koanf:"thresholds"`
}

type BreakerConfig struct {
	FailureThreshold  int           `koanf:"failure_threshold"`
	MinimumThroughput int           `koanf:"minimum_throughput"`
	ResetTimeout      time.Duration `koanf:"reset_timeout"`
}

type HealingConfig struct {
	CompositeRatio  float64 `koanf:"composite_ratio"`
	EmergencySingle bool    `koanf:"emergency_single"`
}

type PredictConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Interval       time.Duration `koanf:"interval"`
	ConfidenceGate float64       `koanf:"confidence_gate"`
	AnomalyGate    float64       `koanf:"anomaly_gate"`
}

type StorageConfig struct {
	// SQLitePath persists the incident audit trail when set; empty keeps
	// incidents in memory.
	SQLitePath string `koanf:"sqlite_path"`
}

type CatalogConfig struct {
	Actions    string `koanf:"actions"`
	Strategies string `koanf:"strategies"`
}

// Load reads configuration from defaults, an optional yaml file, and
// SELFHEAL_-prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")

	k.Set("monitor.interval", "30s")
	k.Set("monitor.retention", "24h")
	k.Set("monitor.thresholds.elevated.cpu", 60)
	k.Set("monitor.thresholds.elevated.memory", 70)
	k.Set("monitor.thresholds.elevated.response_time", 2000)
	k.Set("monitor.thresholds.elevated.error_rate", 2)
	k.Set("monitor.thresholds.critical.cpu", 80)
	k.Set("monitor.thresholds.critical.memory", 85)
	k.Set("monitor.thresholds.critical.response_time", 5000)
	k.Set("monitor.thresholds.critical.error_rate", 5)

	k.Set("breaker.failure_threshold", 5)
	k.Set("breaker.minimum_throughput", 2)
	k.Set("breaker.reset_timeout", "30s")

	k.Set("healing.composite_ratio", 0.7)
	k.Set("healing.emergency_single", true)

	k.Set("predict.enabled", true)
	k.Set("predict.interval", "5m")
	k.Set("predict.confidence_gate", 95)
	k.Set("predict.anomaly_gate", 90)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (SELFHEAL_MONITOR_INTERVAL -> monitor.interval)
	if err := k.Load(env.Provider("SELFHEAL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SELFHEAL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
