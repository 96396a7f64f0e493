package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

// EnvConfigFile names the YAML file loaded when no path is passed to Load.
const EnvConfigFile = "COE_CONFIG"

type Config struct {
	// Data source
	DataGovBaseURL    string        `yaml:"datagov_base_url"`
	DataGovResourceID string        `yaml:"datagov_resource_id"`
	DataGovPageSize   int           `yaml:"datagov_page_size"`
	DataGovAPIKey     string        `yaml:"-"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`

	// Output
	OutputDir string `yaml:"output_dir"`

	// Git publishing
	GitEnabled     bool   `yaml:"git_enabled"`
	GitRemote      string `yaml:"git_remote"`
	GitBranch      string `yaml:"git_branch"`
	GitAuthorName  string `yaml:"git_author_name"`
	GitAuthorEmail string `yaml:"git_author_email"`

	// Object storage mirror
	GCSBucket           string `yaml:"gcs_bucket"`
	GCSPrefix           string `yaml:"gcs_prefix"`
	StorageEmulatorHost string `yaml:"storage_emulator_host"`

	// Notifications
	WebhookURL string `yaml:"-"`
	BotName    string `yaml:"bot_name"`

	// Metrics
	PushgatewayURL string `yaml:"pushgateway_url"`

	// Scheduling
	ScheduleCron     string `yaml:"schedule_cron"`
	ScheduleUpcoming int    `yaml:"schedule_upcoming"`
	RunOnStart       bool   `yaml:"run_on_start"`

	LogMode string `yaml:"log_mode"`
}

func Default() *Config {
	return &Config{
		DataGovBaseURL:    "https://data.gov.sg/api/action/datastore_search",
		DataGovResourceID: "d_69b3380ad7e51aff3a7dcc84eba52b8a",
		DataGovPageSize:   1000,
		HTTPTimeout:       30 * time.Second,
		OutputDir:         "public",
		GitRemote:         "origin",
		GitAuthorName:     "coesg-data",
		GitAuthorEmail:    "coesg-data@users.noreply.github.com",
		BotName:           "COE-SG",
		ScheduleCron:      "0 */6 * * *",
		ScheduleUpcoming:  4,
		RunOnStart:        true,
		LogMode:           "dev",
	}
}

// Load builds the configuration from defaults, then the optional YAML file,
// then the environment (including .env). Secrets are read from the
// environment only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Data source
	c.DataGovBaseURL = envStr("DATAGOV_BASE_URL", c.DataGovBaseURL)
	c.DataGovResourceID = envStr("DATAGOV_RESOURCE_ID", c.DataGovResourceID)
	c.DataGovPageSize = envInt("DATAGOV_PAGE_SIZE", c.DataGovPageSize)
	c.DataGovAPIKey = envStr("DATAGOV_API_KEY", c.DataGovAPIKey)
	c.HTTPTimeout = envDuration("HTTP_TIMEOUT", c.HTTPTimeout)

	c.OutputDir = envStr("OUTPUT_DIR", c.OutputDir)

	// Git
	c.GitEnabled = envBool("GIT_ENABLED", c.GitEnabled)
	c.GitRemote = envStr("GIT_REMOTE", c.GitRemote)
	c.GitBranch = envStr("GIT_BRANCH", c.GitBranch)
	c.GitAuthorName = envStr("GIT_AUTHOR_NAME", c.GitAuthorName)
	c.GitAuthorEmail = envStr("GIT_AUTHOR_EMAIL", c.GitAuthorEmail)

	// GCS
	c.GCSBucket = envStr("GCS_BUCKET", c.GCSBucket)
	c.GCSPrefix = envStr("GCS_PREFIX", c.GCSPrefix)
	c.StorageEmulatorHost = envStr("STORAGE_EMULATOR_HOST", c.StorageEmulatorHost)

	// Notifications
	c.WebhookURL = envStr("WEBHOOK_URL", c.WebhookURL)
	c.BotName = envStr("BOT_NAME", c.BotName)

	c.PushgatewayURL = envStr("PUSHGATEWAY_URL", c.PushgatewayURL)

	// Scheduling
	c.ScheduleCron = envStr("SCHEDULE_CRON", c.ScheduleCron)
	c.ScheduleUpcoming = envInt("SCHEDULE_UPCOMING", c.ScheduleUpcoming)
	c.RunOnStart = envBool("RUN_ON_START", c.RunOnStart)

	c.LogMode = envStr("LOG_MODE", c.LogMode)
}

func (c *Config) Validate() error {
	var errs []string

	if c.DataGovBaseURL == "" {
		errs = append(errs, "DATAGOV_BASE_URL is required")
	}
	if c.DataGovResourceID == "" {
		errs = append(errs, "DATAGOV_RESOURCE_ID is required")
	}
	if c.DataGovPageSize <= 0 {
		errs = append(errs, "DATAGOV_PAGE_SIZE must be positive")
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, "HTTP_TIMEOUT must be positive")
	}
	if c.OutputDir == "" {
		errs = append(errs, "OUTPUT_DIR is required")
	}
	if c.GitEnabled && c.GitAuthorEmail == "" {
		errs = append(errs, "GIT_AUTHOR_EMAIL is required when GIT_ENABLED is set")
	}
	if c.ScheduleUpcoming < 0 {
		errs = append(errs, "SCHEDULE_UPCOMING must not be negative")
	}
	if _, err := cron.ParseStandard(c.ScheduleCron); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULE_CRON %q is invalid: %v", c.ScheduleCron, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (c *Config) Warnings() []string {
	var warns []string
	if c.DataGovAPIKey == "" {
		warns = append(warns, "DATAGOV_API_KEY not set, requests use the anonymous rate limit")
	}
	if !c.GitEnabled && c.GCSBucket == "" {
		warns = append(warns, "GIT_ENABLED is off and GCS_BUCKET is empty, artifacts stay on local disk")
	}
	return warns
}

func (c *Config) Print(log *logger.Logger) {
	log.Info("Configuration",
		"datagov_url", c.DataGovBaseURL,
		"resource_id", c.DataGovResourceID,
		"page_size", c.DataGovPageSize,
		"datagov_api_key", boolLabel(c.DataGovAPIKey != "", "configured", "not set"),
		"http_timeout", c.HTTPTimeout,
		"output_dir", c.OutputDir,
		"git", boolLabel(c.GitEnabled, c.GitRemote+" "+c.GitBranch, "disabled"),
		"gcs", boolLabel(c.GCSBucket != "", "gs://"+c.GCSBucket+"/"+c.GCSPrefix, "disabled"),
		"webhook", boolLabel(c.WebhookURL != "", "configured", "not set"),
		"pushgateway", boolLabel(c.PushgatewayURL != "", c.PushgatewayURL, "disabled"),
		"schedule", c.ScheduleCron,
	)
	for _, w := range c.Warnings() {
		log.Warn(w)
	}
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
