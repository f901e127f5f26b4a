package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models signalnoise.yml.
type Config struct {
	Profile struct {
		ID string `yaml:"id"`
	} `yaml:"profile"`
	Session struct {
		MergeThresholdMinutes int    `yaml:"merge_threshold_minutes"`
		OverrunGraceMinutes   int    `yaml:"overrun_grace_minutes"`
		DayCutoff             string `yaml:"day_cutoff"`
	} `yaml:"session"`
	Ratio struct {
		GoldenRatio       float64 `yaml:"golden_ratio"`
		MinTrackedMinutes int     `yaml:"min_tracked_minutes"`
		GoldenDaysTarget  int     `yaml:"golden_days_target"`
	} `yaml:"ratio"`
	Tasks struct {
		MaxPerDay int `yaml:"max_per_day"`
	} `yaml:"tasks"`
	Schedule struct {
		Days map[string]DayConfig `yaml:"days"`
	} `yaml:"schedule"`
	Mirrors []MirrorConfig `yaml:"mirrors,omitempty"`
}

// DayConfig is the configured focus window for one weekday, keyed by the
// lowercase English day name in the YAML map.
type DayConfig struct {
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Active bool   `yaml:"active"`
}

// MirrorConfig describes one outbound calendar mirror endpoint.
type MirrorConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var dayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// MergeThreshold returns the session-merge window as a duration.
func (c *Config) MergeThreshold() time.Duration {
	return time.Duration(c.Session.MergeThresholdMinutes) * time.Minute
}

// OverrunGrace returns how long past planned end a running slot may live
// before the sweeper settles it.
func (c *Config) OverrunGrace() time.Duration {
	return time.Duration(c.Session.OverrunGraceMinutes) * time.Minute
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sn settings import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Profile.ID == "" {
		return fmt.Errorf("config.profile.id is required")
	}
	if c.Session.MergeThresholdMinutes < 0 {
		return fmt.Errorf("config.session.merge_threshold_minutes must not be negative")
	}
	if c.Session.OverrunGraceMinutes < 0 {
		return fmt.Errorf("config.session.overrun_grace_minutes must not be negative")
	}
	if c.Session.DayCutoff != "" {
		if _, _, err := ParseClock(c.Session.DayCutoff); err != nil {
			return fmt.Errorf("config.session.day_cutoff: %w", err)
		}
	}
	if c.Ratio.GoldenRatio < 0 || c.Ratio.GoldenRatio > 1 {
		return fmt.Errorf("config.ratio.golden_ratio must be within [0,1]")
	}
	if c.Ratio.MinTrackedMinutes < 0 {
		return fmt.Errorf("config.ratio.min_tracked_minutes must not be negative")
	}
	if c.Ratio.GoldenDaysTarget < 0 || c.Ratio.GoldenDaysTarget > 7 {
		return fmt.Errorf("config.ratio.golden_days_target must be within [0,7]")
	}
	if c.Tasks.MaxPerDay < 1 {
		return fmt.Errorf("config.tasks.max_per_day must be at least 1")
	}
	for name, day := range c.Schedule.Days {
		if !validDayName(name) {
			return fmt.Errorf("config.schedule.days has unknown day %q", name)
		}
		if _, _, err := ParseClock(day.Start); err != nil {
			return fmt.Errorf("schedule day %s start: %w", name, err)
		}
		if _, _, err := ParseClock(day.End); err != nil {
			return fmt.Errorf("schedule day %s end: %w", name, err)
		}
	}
	for i, m := range c.Mirrors {
		if m.URL == "" {
			return fmt.Errorf("config.mirrors[%d].url is required", i)
		}
		if m.TimeoutSeconds < 0 {
			return fmt.Errorf("config.mirrors[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func validDayName(name string) bool {
	for _, d := range dayNames {
		if d == name {
			return true
		}
	}
	return false
}

// ParseClock parses an "HH:MM" wall-clock string. A legacy hour of 24 is
// normalized to 0 (midnight).
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	if hour == 24 && minute == 0 {
		hour = 0
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock value %q out of range", s)
	}
	return hour, minute, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "signalnoise.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(profileID string) string {
	return fmt.Sprintf(defaultTemplate, profileID)
}

// Default returns the default Config struct for a profile.
func Default(profileID string) *Config {
	var cfg Config
	cfg.Profile.ID = profileID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, profileID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `profile:
  id: %s

session:
  merge_threshold_minutes: 15
  overrun_grace_minutes: 30
  day_cutoff: "23:59"

ratio:
  golden_ratio: 0.8
  min_tracked_minutes: 60
  golden_days_target: 5

tasks:
  max_per_day: 5

schedule:
  days:
    monday:    { start: "09:00", end: "17:00", active: true }
    tuesday:   { start: "09:00", end: "17:00", active: true }
    wednesday: { start: "09:00", end: "17:00", active: true }
    thursday:  { start: "09:00", end: "17:00", active: true }
    friday:    { start: "09:00", end: "17:00", active: true }
    saturday:  { start: "10:00", end: "14:00", active: false }
    sunday:    { start: "10:00", end: "14:00", active: false }
`
