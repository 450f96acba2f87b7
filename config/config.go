package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"` // development or production
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// DeviceConfig tunes the router connection manager and fan-out queries.
type DeviceConfig struct {
	ConnectTimeout   int `yaml:"connect_timeout"`   // seconds per connect attempt
	CommandTimeout   int `yaml:"command_timeout"`   // seconds per command
	MaxRetries       int `yaml:"max_retries"`       // connect attempts before giving up
	BackoffMax       int `yaml:"backoff_max"`       // seconds, retry delay cap
	ProbeConcurrency int `yaml:"probe_concurrency"` // simultaneous per-port probes
}

// TelemetryConfig sets the retention policy applied to sampled metrics.
type TelemetryConfig struct {
	Metrics        []string `yaml:"metrics"`         // metric types sampled by the cron job
	SampleInterval int      `yaml:"sample_interval"` // minutes between persisted points
	MaxAgeDays     int      `yaml:"max_age_days"`    // history retention window
}

type AppConfig struct {
	System    SysConfig       `yaml:"system"`
	Web       WebConfig       `yaml:"web"`
	Database  DBConfig        `yaml:"database"`
	Logger    LogConfig       `yaml:"logger"`
	Device    DeviceConfig    `yaml:"device"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "routerman",
			Location: "Asia/Shanghai",
			Workdir:  "/var/routerman",
		},
		Web: WebConfig{Host: "0.0.0.0", Port: 1816},
		Database: DBConfig{
			Type:    "postgres",
			Host:    "127.0.0.1",
			Port:    5432,
			Name:    "routerman",
			User:     "postgres",
			MaxConn:  100,
			IdleConn: 10,
		},
		Logger: LogConfig{Mode: "development"},
		Device: DeviceConfig{
			ConnectTimeout:   10,
			CommandTimeout:   15,
			MaxRetries:       3,
			BackoffMax:       10,
			ProbeConcurrency: 8,
		},
		Telemetry: TelemetryConfig{
			Metrics:        []string{"cpu", "temperature"},
			SampleInterval: 5,
			MaxAgeDays:     3,
		},
	}
}

// LoadConfig reads the YAML config file, falling back to defaults for
// missing values and honoring ROUTERMAN_* environment overrides.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("ROUTERMAN_WORKDIR"); v != "" {
		cfg.System.Workdir = v
	}
	if v := os.Getenv("ROUTERMAN_WEB_PORT"); v != "" {
		cfg.Web.Port = cast.ToInt(v)
	}
	if v := os.Getenv("ROUTERMAN_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ROUTERMAN_DB_PORT"); v != "" {
		cfg.Database.Port = cast.ToInt(v)
	}
	if v := os.Getenv("ROUTERMAN_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ROUTERMAN_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ROUTERMAN_DB_PWD"); v != "" {
		cfg.Database.Passwd = v
	}
	if v := os.Getenv("ROUTERMAN_DEBUG"); v != "" {
		cfg.System.Debug = cast.ToBool(v)
	}
}

// SampleInterval returns the telemetry throttle as a duration.
func (c *TelemetryConfig) SampleIntervalDuration() time.Duration {
	if c.SampleInterval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SampleInterval) * time.Minute
}

// MaxAge returns the telemetry retention window as a duration.
func (c *TelemetryConfig) MaxAge() time.Duration {
	if c.MaxAgeDays <= 0 {
		return 3 * 24 * time.Hour
	}
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}
