
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
)

// Driver names accepted by DriverConfig.Name
const (
	DriverDOM     = "dom"
	DriverBrowser = "browser"
)

// Cohort selection strategies accepted by ScenariosConfig.CohortStrategy
const (
	CohortStrategyFirst = "first"
	CohortStrategyProbe = "probe"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"`
	Page        PageConfig        `toml:"page"`
	CSV         CSVConfig         `toml:"csv"`
	Server      ServerConfig      `toml:"server"`
	Driver      DriverConfig      `toml:"driver"`
	Browser     BrowserConfig     `toml:"browser"`
	Scenarios   ScenariosConfig   `toml:"scenarios"`
	Report      ReportConfig      `toml:"report"`
	Logging     LoggingConfig     `toml:"logging"`
	Variables   map[string]string `toml:"variables"` // {key} replacements applied to string settings and the page markup
}

// PageConfig locates the lookup page under test
type PageConfig struct {
	Path    string `toml:"path" validate:"required"`
	BaseURL string `toml:"base_url" validate:"required,url"` // Document URL used by the dom driver (relative fetches resolve against it)
}

// CSVConfig controls how the cohort CSV is fetched
type CSVConfig struct {
	Timeout           string  `toml:"timeout"`             // e.g. "30s"
	MaxAttempts       int     `toml:"max_attempts" validate:"min=1,max=10"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"`
	UserAgent         string  `toml:"user_agent"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// DriverConfig selects and tunes the page driver
type DriverConfig struct {
	Name         string `toml:"name" validate:"oneof=dom browser"`
	WaitTimeout  string `toml:"wait_timeout"`  // Upper bound for condition polling (default: "30s")
	PollInterval string `toml:"poll_interval"` // Interval between condition checks (default: "200ms")
	StepDelay    string `toml:"step_delay"`    // Fixed settle time after a scenario's inputs (default: "100ms")
}

// BrowserConfig holds headless Chrome options for the browser driver
type BrowserConfig struct {
	Headless          bool   `toml:"headless"`
	NoSandbox         bool   `toml:"no_sandbox"`
	DisableGPU        bool   `toml:"disable_gpu"`
	ExecPath          string `toml:"exec_path"`
	UserAgent         string `toml:"user_agent"`
	NavigationTimeout string `toml:"navigation_timeout"` // default: "60s"
	ScreenshotsDir    string `toml:"screenshots_dir"`    // Empty disables per-scenario screenshots
}

// ScenariosConfig holds the fixed scenario inputs
type ScenariosConfig struct {
	CohortStrategy  string   `toml:"cohort_strategy" validate:"omitempty,oneof=first probe"` // Empty picks per driver: dom=first, browser=probe
	FallbackCohort  string   `toml:"fallback_cohort" validate:"required,numeric"`
	ProbeCandidates []string `toml:"probe_candidates" validate:"dive,numeric"` // Used by probe when the CSV yields no cohorts
	ProbeTimeout    string   `toml:"probe_timeout"`
	InvalidCohort   string   `toml:"invalid_cohort" validate:"required"`
	SuccessPattern  string   `toml:"success_pattern" validate:"required"`
}

// ReportConfig controls report rendering
type ReportConfig struct {
	Format string `toml:"format" validate:"oneof=text json yaml markdown html"`
	Output string `toml:"output"` // Optional file written in addition to stdout
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"`
	Output     []string `toml:"output"`      // "console", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05"
}

// NewDefaultConfig returns the configuration used when no file overrides a value
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Page: PageConfig{
			Path:    "./index.html",
			BaseURL: "http://localhost/",
		},
		CSV: CSVConfig{
			Timeout:           "30s",
			MaxAttempts:       1, // Fetch failures are fatal unless explicitly configured otherwise
			RequestsPerSecond: 5,
			UserAgent:         "cohortprobe/" + GetVersion(),
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Driver: DriverConfig{
			Name:         DriverDOM,
			WaitTimeout:  "30s",
			PollInterval: "200ms",
			StepDelay:    "100ms",
		},
		Browser: BrowserConfig{
			Headless:          true,
			NoSandbox:         true,
			DisableGPU:        true,
			NavigationTimeout: "60s",
		},
		Scenarios: ScenariosConfig{
			FallbackCohort:  "110",
			ProbeCandidates: []string{"110", "111", "112", "113", "114", "115", "116", "117", "118", "119"},
			ProbeTimeout:    "15s",
			InvalidCohort:   "99999",
			SuccessPattern:  `(?i)Могу предложить тебе выйти`,
		},
		Report: ReportConfig{
			Format: "text",
		},
		Logging: LoggingConfig{
			Level:      "warn", // Report goes to stdout, keep the console quiet
			Output:     []string{"console"},
			TimeFormat: "15:04:05",
		},
		Variables: map[string]string{},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files. {key} references are resolved from the merged
// [variables] table before environment overrides are applied.
func LoadFromFiles(logger arbor.ILogger, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if len(config.Variables) > 0 {
		if logger == nil {
			logger = arbor.NewLogger()
		}
		if err := ReplaceInStruct(config, config.Variables, logger); err != nil {
			return nil, fmt.Errorf("failed to apply variable replacements: %w", err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies COHORTPROBE_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COHORTPROBE_ENV"); env != "" {
		config.Environment = env
	}

	if page := os.Getenv("COHORTPROBE_PAGE"); page != "" {
		config.Page.Path = page
	}
	if driver := os.Getenv("COHORTPROBE_DRIVER"); driver != "" {
		config.Driver.Name = strings.ToLower(driver)
	}

	if port := os.Getenv("COHORTPROBE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COHORTPROBE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if execPath := os.Getenv("COHORTPROBE_CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if headless := os.Getenv("COHORTPROBE_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}

	if attempts := os.Getenv("COHORTPROBE_CSV_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.CSV.MaxAttempts = a
		}
	}

	if format := os.Getenv("COHORTPROBE_REPORT_FORMAT"); format != "" {
		config.Report.Format = strings.ToLower(format)
	}

	if level := os.Getenv("COHORTPROBE_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
}

// FlagOverrides carries command-line values; zero values leave the config
// untouched. Port is a pointer because 0 is a valid choice (ephemeral).
type FlagOverrides struct {
	Page     string
	Driver   string
	Port     *int
	Format   string
	Output   string
	LogLevel string
}

// ApplyFlagOverrides applies command-line flags (highest priority)
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	if flags.Page != "" {
		config.Page.Path = flags.Page
	}
	if flags.Driver != "" {
		config.Driver.Name = strings.ToLower(flags.Driver)
	}
	if flags.Port != nil {
		config.Server.Port = *flags.Port
	}
	if flags.Format != "" {
		config.Report.Format = strings.ToLower(flags.Format)
	}
	if flags.Output != "" {
		config.Report.Output = flags.Output
	}
	if flags.LogLevel != "" {
		config.Logging.Level = strings.ToLower(flags.LogLevel)
	}
}

// Validate checks struct tags and the duration strings
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"csv.timeout":                c.CSV.Timeout,
		"driver.wait_timeout":        c.Driver.WaitTimeout,
		"driver.poll_interval":       c.Driver.PollInterval,
		"driver.step_delay":          c.Driver.StepDelay,
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"scenarios.probe_timeout":    c.Scenarios.ProbeTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q is not a duration: %w", key, value, err)
		}
	}

	return nil
}

// CohortStrategy resolves the effective cohort selection strategy for the configured driver
func (c *Config) CohortStrategy() string {
	if c.Scenarios.CohortStrategy != "" {
		return c.Scenarios.CohortStrategy
	}
	if c.Driver.Name == DriverBrowser {
		return CohortStrategyProbe
	}
	return CohortStrategyFirst
}

// ParseDuration parses s, returning fallback for empty or malformed values
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
