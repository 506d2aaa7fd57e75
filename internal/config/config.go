package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	ModePreserve = "preserve"
	ModeFixed    = "fixed"

	RuntimeAPI = "api"
	RuntimeCLI = "cli"
)

type Config struct {
	Runtime         string `yaml:"runtime"`
	DockerHost      string `yaml:"docker_host"`
	DockerBin       string `yaml:"docker_bin"`
	Mode            string `yaml:"mode"`
	Exclude         string `yaml:"exclude"`
	Target          string `yaml:"target"`
	Image           string `yaml:"image"`
	HostPort        int    `yaml:"host_port"`
	ContainerPort   int    `yaml:"container_port"`
	LogsDir         string `yaml:"logs_dir"`
	Timezone        string `yaml:"timezone"`
	HistoryEnabled  bool   `yaml:"history"`
	DBPath          string `yaml:"db_path"`
	LogLevel        string `yaml:"log_level"`
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	TelegramToken   string `yaml:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id"`
}

func Default() Config {
	return Config{
		Runtime:        RuntimeAPI,
		DockerHost:     "unix:///var/run/docker.sock",
		DockerBin:      "docker",
		Mode:           ModePreserve,
		Exclude:        "portainer",
		LogsDir:        "./logs",
		Timezone:       "Europe/Amsterdam",
		HistoryEnabled: true,
		LogLevel:       "info",
	}
}

// Load layers the optional YAML file at path and then the CO_* environment
// over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Runtime = getEnv("CO_RUNTIME", cfg.Runtime)
	cfg.DockerHost = getEnv("CO_DOCKER_HOST", cfg.DockerHost)
	cfg.DockerBin = getEnv("CO_DOCKER_BIN", cfg.DockerBin)
	cfg.Mode = getEnv("CO_MODE", cfg.Mode)
	cfg.Exclude = getEnv("CO_EXCLUDE", cfg.Exclude)
	cfg.Target = getEnv("CO_TARGET", cfg.Target)
	cfg.Image = getEnv("CO_IMAGE", cfg.Image)
	cfg.HostPort = getEnvInt("CO_HOST_PORT", cfg.HostPort)
	cfg.ContainerPort = getEnvInt("CO_CONTAINER_PORT", cfg.ContainerPort)
	cfg.LogsDir = getEnv("CO_LOGS_DIR", cfg.LogsDir)
	cfg.Timezone = getEnv("CO_TIMEZONE", cfg.Timezone)
	cfg.HistoryEnabled = getEnvBool("CO_HISTORY", cfg.HistoryEnabled)
	cfg.DBPath = getEnv("CO_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("CO_LOG_LEVEL", cfg.LogLevel)
	cfg.TelegramEnabled = getEnvBool("CO_TG_ENABLED", cfg.TelegramEnabled)
	cfg.TelegramToken = getEnv("CO_TG_TOKEN", cfg.TelegramToken)
	cfg.TelegramChatID = getEnv("CO_TG_CHAT_ID", cfg.TelegramChatID)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Runtime {
	case RuntimeAPI, RuntimeCLI:
	default:
		errs = append(errs, fmt.Errorf("unknown runtime %q (want %s or %s)", c.Runtime, RuntimeAPI, RuntimeCLI))
	}
	switch c.Mode {
	case ModePreserve:
	case ModeFixed:
		if strings.TrimSpace(c.Target) == "" {
			errs = append(errs, errors.New("fixed mode needs a target container name"))
		}
		if strings.TrimSpace(c.Image) == "" {
			errs = append(errs, errors.New("fixed mode needs an image"))
		}
		if !validPort(c.HostPort) || !validPort(c.ContainerPort) {
			errs = append(errs, fmt.Errorf("fixed mode needs host and container ports in 1..65535, got %d:%d", c.HostPort, c.ContainerPort))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q (want %s or %s)", c.Mode, ModePreserve, ModeFixed))
	}
	if strings.TrimSpace(c.LogsDir) == "" {
		errs = append(errs, errors.New("logs directory is empty"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) HistoryPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.LogsDir, "history.db")
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func getEnv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}
