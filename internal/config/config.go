package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings: process-level settings from
// environment variables, per-station pipeline settings from the
// stations file.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	FTPAddr    string
	FTPTimeout time.Duration

	StationsFile string
	Stations     []Station

	ClickHouseEnabled  bool
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	PlotEnabled bool
	PlotDir     string
}

// Station is one observatory's pipeline settings. A Station value is
// immutable once loaded; every pipeline gets its own copy, so no two
// stations share mutable state.
type Station struct {
	// Code is the IAGA observatory code, lowercase, e.g. "ent".
	Code string `yaml:"code"`
	// K9Limit is the disturbance magnitude, in nT, that saturates the
	// K scale at this station.
	K9Limit float64 `yaml:"k9_limit"`
	// LookbackDays is how many recent daily files each cycle merges.
	LookbackDays int `yaml:"lookback_days"`
	// PollIntervalMinutes is the cycle cadence.
	PollIntervalMinutes int `yaml:"poll_interval_minutes"`
	// FTPPath is the remote directory holding this observatory's
	// daily IAGA-2002 files.
	FTPPath string `yaml:"ftp_path"`
}

// PollInterval returns the cycle cadence as a duration.
func (s Station) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

type stationsFile struct {
	Stations []Station `yaml:"stations"`
}

// Load reads configuration from environment variables and the stations
// file, applying defaults where unset. A missing stations file at the
// default location falls back to the built-in Entoto station so the
// daemon runs out of the box; an explicitly configured path must exist.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	ftpTimeout, err := parseDurationEnv("FTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FTPAddr:    envOrDefault("FTP_ADDR", "ftp.gfz-potsdam.de:21"),
		FTPTimeout: ftpTimeout,

		StationsFile: envOrDefault("STATIONS_FILE", "stations.yaml"),

		ClickHouseAddr:     os.Getenv("CLICKHOUSE_ADDR"),
		ClickHouseDatabase: envOrDefault("CLICKHOUSE_DATABASE", "space_weather"),
		ClickHouseUser:     envOrDefault("CLICKHOUSE_USER", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		KafkaBrokers: parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "k-index-results"),

		PlotDir: os.Getenv("PLOT_DIR"),
	}

	cfg.ClickHouseEnabled = cfg.ClickHouseAddr != ""
	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	cfg.PlotEnabled = cfg.PlotDir != ""

	if cfg.FTPAddr == "" {
		return nil, errors.New("FTP_ADDR is required")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}

	explicit := os.Getenv("STATIONS_FILE") != ""
	stations, err := loadStations(cfg.StationsFile, explicit)
	if err != nil {
		return nil, err
	}
	cfg.Stations = stations

	return cfg, nil
}

// defaultStation mirrors the Entoto deployment this service started
// life monitoring.
func defaultStation() Station {
	s := Station{Code: "ent"}
	applyStationDefaults(&s)
	return s
}

func loadStations(path string, mustExist bool) ([]Station, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return []Station{defaultStation()}, nil
		}
		return nil, fmt.Errorf("read stations file: %w", err)
	}

	var file stationsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse stations file: %w", err)
	}
	if len(file.Stations) == 0 {
		return nil, fmt.Errorf("stations file %s declares no stations", path)
	}

	seen := make(map[string]bool, len(file.Stations))
	for i := range file.Stations {
		s := &file.Stations[i]
		s.Code = strings.ToLower(strings.TrimSpace(s.Code))
		if s.Code == "" {
			return nil, fmt.Errorf("station %d: code is required", i)
		}
		if seen[s.Code] {
			return nil, fmt.Errorf("station %s declared twice", s.Code)
		}
		seen[s.Code] = true

		applyStationDefaults(s)
		if err := validateStation(*s); err != nil {
			return nil, fmt.Errorf("station %s: %w", s.Code, err)
		}
	}
	return file.Stations, nil
}

func applyStationDefaults(s *Station) {
	if s.K9Limit == 0 {
		s.K9Limit = 500
	}
	if s.LookbackDays == 0 {
		s.LookbackDays = 3
	}
	if s.PollIntervalMinutes == 0 {
		s.PollIntervalMinutes = 10
	}
	if s.FTPPath == "" {
		// GFZ archive convention: directory named after the
		// observatory code plus a revision digit.
		s.FTPPath = fmt.Sprintf("/pub/home/obs/data/iaga2002/%s0/", strings.ToUpper(s.Code))
	}
}

func validateStation(s Station) error {
	if s.K9Limit <= 0 {
		return errors.New("k9_limit must be positive")
	}
	if s.LookbackDays <= 0 {
		return errors.New("lookback_days must be positive")
	}
	if s.PollIntervalMinutes <= 0 {
		return errors.New("poll_interval_minutes must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationEnv(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBrokers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if b := strings.TrimSpace(p); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
