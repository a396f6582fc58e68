package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devgrid/fleetguard/internal/filter"
	"github.com/devgrid/fleetguard/internal/policy"
)

type Config struct {
	QuietHours QuietHoursConfig `mapstructure:"quiet_hours" yaml:"quiet_hours"`
	Filters    FiltersConfig    `mapstructure:"filters" yaml:"filters"`
	TTL        TTLConfig        `mapstructure:"ttl" yaml:"ttl"`
	Prune      PruneConfig      `mapstructure:"prune" yaml:"prune"`
	Daemon     DaemonConfig     `mapstructure:"daemon" yaml:"daemon"`
	DryRun     bool             `mapstructure:"dry_run" yaml:"dry_run"`
}

type QuietHoursConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	StartTime         string   `mapstructure:"start_time" yaml:"start_time"`
	EndTime           string   `mapstructure:"end_time" yaml:"end_time"`
	Timezone          string   `mapstructure:"timezone" yaml:"timezone"`
	GracePeriodHours  int      `mapstructure:"grace_period_hours" yaml:"grace_period_hours"`
	ExcludedUsers     []string `mapstructure:"excluded_users" yaml:"excluded_users"`
	ExcludedTemplates []string `mapstructure:"excluded_templates" yaml:"excluded_templates"`
}

type FiltersConfig struct {
	IncludeOrganizations []string `mapstructure:"include_organizations" yaml:"include_organizations"`
	ExcludeOrganizations []string `mapstructure:"exclude_organizations" yaml:"exclude_organizations"`
	IncludeGroups        []string `mapstructure:"include_groups" yaml:"include_groups"`
	ExcludeGroups        []string `mapstructure:"exclude_groups" yaml:"exclude_groups"`
	IncludeUsers         []string `mapstructure:"include_users" yaml:"include_users"`
	ExcludeUsers         []string `mapstructure:"exclude_users" yaml:"exclude_users"`
	IncludeTemplates     []string `mapstructure:"include_templates" yaml:"include_templates"`
	ExcludeTemplates     []string `mapstructure:"exclude_templates" yaml:"exclude_templates"`
}

type TTLConfig struct {
	WarningThresholdHours float64 `mapstructure:"warning_threshold_hours" yaml:"warning_threshold_hours"`
	CheckIntervalMinutes  int     `mapstructure:"check_interval_minutes" yaml:"check_interval_minutes"`
}

type PruneConfig struct {
	// DefaultQuietHoursDuration is the assumed window length in hours
	// for per-user schedules, which only carry a start time.
	DefaultQuietHoursDuration int `mapstructure:"default_quiet_hours_duration" yaml:"default_quiet_hours_duration"`
}

type DaemonConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

func Default() Config {
	return Config{
		QuietHours: QuietHoursConfig{
			Enabled:          true,
			StartTime:        "18:00",
			EndTime:          "08:00",
			Timezone:         "UTC",
			GracePeriodHours: 1,
		},
		TTL: TTLConfig{
			WarningThresholdHours: 1,
			CheckIntervalMinutes:  15,
		},
		Prune: PruneConfig{
			DefaultQuietHoursDuration: 8,
		},
		Daemon: DaemonConfig{
			Port: 8410,
		},
	}
}

func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fleetguard")
}

func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.yaml")
}

// Load reads configuration from the given file (or the default path
// when empty), layered under environment overrides. A missing file is
// not an error; defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = ConfigPath()
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("FLEETGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("quiet_hours.enabled", def.QuietHours.Enabled)
	v.SetDefault("quiet_hours.start_time", def.QuietHours.StartTime)
	v.SetDefault("quiet_hours.end_time", def.QuietHours.EndTime)
	v.SetDefault("quiet_hours.timezone", def.QuietHours.Timezone)
	v.SetDefault("quiet_hours.grace_period_hours", def.QuietHours.GracePeriodHours)
	v.SetDefault("ttl.warning_threshold_hours", def.TTL.WarningThresholdHours)
	v.SetDefault("ttl.check_interval_minutes", def.TTL.CheckIntervalMinutes)
	v.SetDefault("prune.default_quiet_hours_duration", def.Prune.DefaultQuietHoursDuration)
	v.SetDefault("daemon.port", def.Daemon.Port)
	v.SetDefault("dry_run", false)
}

// bindLegacyEnv keeps the original deployment's environment variable
// names working alongside the FLEETGUARD_ prefixed ones.
func bindLegacyEnv(v *viper.Viper) {
	v.BindEnv("quiet_hours.start_time", "QUIET_HOURS_START")
	v.BindEnv("quiet_hours.end_time", "QUIET_HOURS_END")
	v.BindEnv("quiet_hours.timezone", "QUIET_HOURS_TIMEZONE")
	v.BindEnv("quiet_hours.grace_period_hours", "GRACE_PERIOD_HOURS")
	v.BindEnv("dry_run", "DRY_RUN")
}

// Validate rejects configurations the engine must not run under: a
// malformed window boundary, an unknown timezone, or a negative grace
// period.
func (c Config) Validate() error {
	if _, err := policy.ParseClock(c.QuietHours.StartTime); err != nil {
		return fmt.Errorf("quiet_hours.start_time: %w", err)
	}
	if _, err := policy.ParseClock(c.QuietHours.EndTime); err != nil {
		return fmt.Errorf("quiet_hours.end_time: %w", err)
	}
	if _, err := time.LoadLocation(c.QuietHours.Timezone); err != nil {
		return fmt.Errorf("quiet_hours.timezone: unknown timezone %q", c.QuietHours.Timezone)
	}
	if c.QuietHours.GracePeriodHours < 0 {
		return fmt.Errorf("quiet_hours.grace_period_hours: must not be negative")
	}
	if c.TTL.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("ttl.check_interval_minutes: must be positive")
	}
	return nil
}

// Policy builds the immutable quiet hours policy for one run.
func (c Config) Policy() (policy.QuietHours, error) {
	start, err := policy.ParseClock(c.QuietHours.StartTime)
	if err != nil {
		return policy.QuietHours{}, err
	}
	end, err := policy.ParseClock(c.QuietHours.EndTime)
	if err != nil {
		return policy.QuietHours{}, err
	}
	loc, err := time.LoadLocation(c.QuietHours.Timezone)
	if err != nil {
		return policy.QuietHours{}, err
	}

	excludedUsers := make(map[string]bool, len(c.QuietHours.ExcludedUsers))
	for _, u := range c.QuietHours.ExcludedUsers {
		excludedUsers[u] = true
	}
	excludedTemplates := make(map[string]bool, len(c.QuietHours.ExcludedTemplates))
	for _, t := range c.QuietHours.ExcludedTemplates {
		excludedTemplates[t] = true
	}

	return policy.QuietHours{
		Enabled:           c.QuietHours.Enabled,
		Start:             start,
		End:               end,
		Location:          loc,
		GracePeriod:       time.Duration(c.QuietHours.GracePeriodHours) * time.Hour,
		ExcludedUsers:     excludedUsers,
		ExcludedTemplates: excludedTemplates,
	}, nil
}

// FilterSpec builds the membership filter spec from configuration.
func (c Config) FilterSpec() filter.Spec {
	return filter.Spec{
		IncludeOrganizations: c.Filters.IncludeOrganizations,
		ExcludeOrganizations: c.Filters.ExcludeOrganizations,
		IncludeGroups:        c.Filters.IncludeGroups,
		ExcludeGroups:        c.Filters.ExcludeGroups,
		IncludeUsers:         c.Filters.IncludeUsers,
		ExcludeUsers:         c.Filters.ExcludeUsers,
		IncludeTemplates:     c.Filters.IncludeTemplates,
		ExcludeTemplates:     c.Filters.ExcludeTemplates,
	}
}

// Save writes the configuration to the default path, creating the base
// directory if needed.
func Save(cfg Config) error {
	if err := os.MkdirAll(BaseDir(), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0644)
}
