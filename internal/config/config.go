// Package config loads runtime configuration from the environment and an
// optional YAML config file, and owns logger construction.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is everything the commands need to run.
type Config struct {
	WrikeToken   string
	HubSpotToken string

	NeonHost     string
	NeonPort     int
	NeonDatabase string
	NeonUser     string
	NeonPassword string

	// SpaceTitle is the Wrike space holding the project hierarchy.
	SpaceTitle string

	// DashboardPort is where serve mode listens.
	DashboardPort int

	// LogFile enables rotated file logging when set.
	LogFile string

	// EntityFile is an optional YAML descriptor overlay.
	EntityFile string
}

// Load reads configuration from the environment (and cfgFile if given).
// Every key can be set as an environment variable in upper snake case:
// WRIKE_API_TOKEN, NEON_HOST, and so on.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("neon_port", 5432)
	v.SetDefault("wrike_space", "Production")
	v.SetDefault("dashboard_port", 8080)

	for _, key := range []string{
		"wrike_api_token", "hubspot_api_token",
		"neon_host", "neon_port", "neon_database", "neon_user", "neon_password",
		"wrike_space", "dashboard_port", "log_file", "entity_file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return &Config{
		WrikeToken:    v.GetString("wrike_api_token"),
		HubSpotToken:  v.GetString("hubspot_api_token"),
		NeonHost:      v.GetString("neon_host"),
		NeonPort:      v.GetInt("neon_port"),
		NeonDatabase:  v.GetString("neon_database"),
		NeonUser:      v.GetString("neon_user"),
		NeonPassword:  v.GetString("neon_password"),
		SpaceTitle:    v.GetString("wrike_space"),
		DashboardPort: v.GetInt("dashboard_port"),
		LogFile:       v.GetString("log_file"),
		EntityFile:    v.GetString("entity_file"),
	}, nil
}

// Validate checks that every required key is present and reports all the
// missing ones at once, so a first-time setup is not a guessing game.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"WRIKE_API_TOKEN", c.WrikeToken},
		{"HUBSPOT_API_TOKEN", c.HubSpotToken},
		{"NEON_HOST", c.NeonHost},
		{"NEON_DATABASE", c.NeonDatabase},
		{"NEON_USER", c.NeonUser},
		{"NEON_PASSWORD", c.NeonPassword},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	if c.NeonPort <= 0 || c.NeonPort > 65535 {
		return fmt.Errorf("bad NEON_PORT %d", c.NeonPort)
	}
	return nil
}

// NeonDSN renders the lib/pq connection string. Neon requires TLS.
func (c *Config) NeonDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=require",
		c.NeonHost, c.NeonPort, c.NeonDatabase, c.NeonUser, c.NeonPassword)
}

// maxLogSizeMB and maxLogBackups bound rotated log growth.
const (
	maxLogSizeMB  = 20
	maxLogBackups = 5
)

// NewLogger builds a prefixed logger. With a log file configured, output
// goes both to stderr and to a rotated file.
func (c *Config) NewLogger(prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if c.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			Compress:   true,
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}
