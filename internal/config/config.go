package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Target        Target         `yaml:"target"`
	Timezone      string         `yaml:"timezone"`
	RolloverHours map[string]int `yaml:"rollover_hours"`
	Criteria      Criteria       `yaml:"criteria"`
	Notify        Notify         `yaml:"notify"`
	Mask          Mask           `yaml:"mask"`
	Schedule      Schedule       `yaml:"schedule"`
	Output        Output         `yaml:"output"`
	Server        Server         `yaml:"server"`
	Logging       Logging        `yaml:"logging"`
}

type Target struct {
	URL            string `yaml:"url"`
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"`
	RespectRobots  bool   `yaml:"respect_robots"`
}

type Criteria struct {
	SingleWeekday   int      `yaml:"single_weekday"`
	SingleWeekend   int      `yaml:"single_weekend"`
	FemaleMin       int      `yaml:"female_min"`
	FemaleRatioMin  float64  `yaml:"female_ratio_min"`
	MinTotal        *int     `yaml:"min_total"`
	IncludeDOW      []string `yaml:"include_dow"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

type Notify struct {
	Mode                string  `yaml:"mode"`
	CooldownMinutes     int     `yaml:"cooldown_minutes"`
	BonusSingleDelta    int     `yaml:"bonus_single_delta"`
	BonusRatioThreshold float64 `yaml:"bonus_ratio_threshold"`
	IgnoreOlderThan     int     `yaml:"ignore_older_than"`
	PingChannel         bool    `yaml:"ping_channel"`
	DebugSummary        bool    `yaml:"debug_summary"`
	WebhookEnv          string  `yaml:"webhook_env"`
	MessagesPerSecond   float64 `yaml:"messages_per_second"`
}

type Mask struct {
	Level  int       `yaml:"level"`
	Single BandTable `yaml:"single"`
	Female BandTable `yaml:"female"`
	Total  BandTable `yaml:"total"`
	Ratio  BandTable `yaml:"ratio"`
}

type BandTable struct {
	Thresholds []float64 `yaml:"thresholds"`
	Labels     []string  `yaml:"labels"`
	Words      []string  `yaml:"words"`
	Cuts       []int     `yaml:"cuts"`
}

type Schedule struct {
	Watch             string `yaml:"watch"`
	Weekly            string `yaml:"weekly"`
	Monthly           string `yaml:"monthly"`
	JobTimeoutSeconds int    `yaml:"job_timeout_seconds"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for cheekschecker.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "cheekschecker")
}

// DataDir returns the XDG data directory for cheekschecker.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "cheekschecker")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/cheekschecker/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'cheekschecker init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	loadDotEnv()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault parses the embedded default config and applies environment
// overrides. Used when no config file exists.
func LoadDefault() (*Config, error) {
	loadDotEnv()
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
// Band tables given in the file replace the defaults wholesale.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.RolloverHours == nil {
		cfg.RolloverHours = map[string]int{}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Target: Target{
			URL:            "http://cheeks.nagoya/yoyaku.shtml",
			UserAgent:      "cheekschecker/1.0",
			TimeoutSeconds: 20,
			Retries:        3,
			RespectRobots:  true,
		},
		Timezone: "Asia/Tokyo",
		Criteria: Criteria{
			SingleWeekday:  3,
			SingleWeekend:  5,
			FemaleMin:      3,
			FemaleRatioMin: 0.3,
		},
		Notify: Notify{
			Mode:                "newly",
			CooldownMinutes:     180,
			BonusSingleDelta:    2,
			BonusRatioThreshold: 0.5,
			IgnoreOlderThan:     1,
			PingChannel:         true,
			WebhookEnv:          "SLACK_WEBHOOK_URL",
			MessagesPerSecond:   1,
		},
		Mask: Mask{Level: 1},
		Schedule: Schedule{
			Watch:             "*/15 * * * *",
			Weekly:            "0 10 * * 1",
			Monthly:           "0 10 1 * *",
			JobTimeoutSeconds: 180,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO", Format: "text"},
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the sqlite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "cheekschecker.db")
}

// WebhookURL reads the Slack webhook from the configured environment variable.
func (c *Config) WebhookURL() string {
	env := c.Notify.WebhookEnv
	if env == "" {
		env = "SLACK_WEBHOOK_URL"
	}
	return strings.TrimSpace(os.Getenv(env))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
