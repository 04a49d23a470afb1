/*
Package config loads the service configuration from YAML with
environment-variable overrides.

PURPOSE:
  Everything the distilled policy tables left hard-coded upstream is
  configurable here: reward ranges, scenario weights, cut percentages,
  level thresholds, feature costs. The defaults reproduce the production
  values; a config file only needs to state what differs.

PRECEDENCE:
  defaults < YAML file < environment (PORT, DATABASE_PATH, JWT_SECRET).
  A .env file, when present, is loaded by the entry point before this
  package reads the environment.

SEE ALSO:
  - rewards/policies.go: The reward table shape
  - campaign/scenario.go: The scenario table shape
*/
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/smartpicture/growth-engine/campaign"
	"github.com/smartpicture/growth-engine/rewards"
)

// =============================================================================
// CONFIG SHAPE
// =============================================================================

type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Auth     AuthConfig              `yaml:"auth"`
	Rewards  rewards.Policy          `yaml:"rewards"`
	Levels   rewards.LevelThresholds `yaml:"levels"`
	Campaign CampaignConfig          `yaml:"campaign"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	ShareBaseURL string `yaml:"share_base_url"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file; ":memory:" for ephemeral runs.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// JWTSecret is the HMAC key identity tokens are verified with.
	// Usually supplied via JWT_SECRET, not the file.
	JWTSecret string `yaml:"jwt_secret"`
}

// CampaignConfig is the YAML shape of the scenario table. It converts
// into campaign.Table, which uses decimals internally.
type CampaignConfig struct {
	Scenarios    []ScenarioConfig `yaml:"scenarios"`
	FloorRatio   float64          `yaml:"floor_ratio"`
	MinFloor     int64            `yaml:"min_floor"`
	DefaultPrice int64            `yaml:"default_price"`
	HelpPoints   int64            `yaml:"help_points"`
	BonusPoints  int64            `yaml:"bonus_points"`
}

type ScenarioConfig struct {
	Kind   string `yaml:"kind"`
	Weight int64  `yaml:"weight"`
	CutMin int64  `yaml:"cut_min"`
	CutMax int64  `yaml:"cut_max"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	table := campaign.DefaultTable()
	cfg := Config{
		Server:   ServerConfig{Port: 8080, ShareBaseURL: "https://smartpicture.ai/slash"},
		Database: DatabaseConfig{Path: "growth.db"},
		Rewards:  rewards.DefaultPolicy(),
		Levels:   rewards.DefaultLevelThresholds(),
		Campaign: CampaignConfig{
			FloorRatio:   0.15,
			MinFloor:     5,
			DefaultPrice: 100,
			HelpPoints:   10,
			BonusPoints:  30,
		},
	}
	for _, s := range table.Scenarios {
		cfg.Campaign.Scenarios = append(cfg.Campaign.Scenarios, ScenarioConfig{
			Kind:   string(s.Kind),
			Weight: s.Weight,
			CutMin: s.CutPct.Min,
			CutMax: s.CutPct.Max,
		})
	}
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects configurations that would invert the sign of a
// mutation: a non-positive feature cost would turn consumption into a
// credit, a negative credit into a debit.
func (c Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (JWT_SECRET or auth.jwt_secret)")
	}
	if c.Rewards.RegistrationCredit < 0 {
		return fmt.Errorf("rewards: registration_credit must not be negative")
	}
	if c.Rewards.DailyBonus < 0 {
		return fmt.Errorf("rewards: daily_bonus must not be negative")
	}
	if c.Rewards.DefaultFeatureCost <= 0 {
		return fmt.Errorf("rewards: default_feature_cost must be positive")
	}
	for name, cost := range c.Rewards.FeatureCosts {
		if cost <= 0 {
			return fmt.Errorf("rewards: feature cost for %q must be positive", name)
		}
	}
	return nil
}

// Table converts the campaign section into the runtime scenario table.
func (c CampaignConfig) Table() campaign.Table {
	t := campaign.Table{
		FloorRatio:   decimal.NewFromFloat(c.FloorRatio),
		MinFloor:     decimal.NewFromInt(c.MinFloor),
		DefaultPrice: decimal.NewFromInt(c.DefaultPrice),
	}
	for _, s := range c.Scenarios {
		t.Scenarios = append(t.Scenarios, campaign.Scenario{
			Kind:   campaign.Kind(s.Kind),
			Weight: s.Weight,
			CutPct: campaign.PctRange{Min: s.CutMin, Max: s.CutMax},
		})
	}
	if len(t.Scenarios) == 0 {
		t.Scenarios = campaign.DefaultTable().Scenarios
	}
	return t
}
