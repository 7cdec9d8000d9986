package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName names the config directory and the env prefix
const AppName = "dataops"

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	History     HistoryConfig     `mapstructure:"history"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Editor      EditorConfig      `mapstructure:"editor"`
	Search      SearchConfig      `mapstructure:"search"`
	Performance PerformanceConfig `mapstructure:"performance"`
	DataSources DataSourcesConfig `mapstructure:"datasources"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	SessionSecret   string        `mapstructure:"session_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// WorkspaceIdleTimeout closes browser workspaces left unused; 0 disables
	WorkspaceIdleTimeout time.Duration `mapstructure:"workspace_idle_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HistoryConfig struct {
	Path       string `mapstructure:"path"`
	PageSize   int    `mapstructure:"page_size"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type SchemaConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type EditorConfig struct {
	LanguageID    string   `mapstructure:"language_id"`
	AutoComplete  bool     `mapstructure:"auto_complete"`
	ExtraKeywords []string `mapstructure:"extra_keywords"`
}

type SearchConfig struct {
	CaseInsensitive bool `mapstructure:"case_insensitive"`
}

type PerformanceConfig struct {
	MaxConns     int32         `mapstructure:"max_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type DataSourcesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// GetDefaults returns a Config with all default values
func GetDefaults() *Config {
	dir, err := GetConfigPath()
	if err != nil {
		dir = "."
	}

	return &Config{
		Server: ServerConfig{
			Addr:                 "127.0.0.1:8420",
			SessionSecret:        "",
			ShutdownTimeout:      5 * time.Second,
			WorkspaceIdleTimeout: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Path:       filepath.Join(dir, "history.db"),
			PageSize:   20,
			MaxEntries: 1000,
		},
		Schema: SchemaConfig{
			PageSize: 200,
		},
		Editor: EditorConfig{
			LanguageID:   "sql",
			AutoComplete: true,
		},
		Search: SearchConfig{
			CaseInsensitive: false,
		},
		Performance: PerformanceConfig{
			MaxConns:     5,
			QueryTimeout: 30 * time.Second,
		},
		DataSources: DataSourcesConfig{
			Path:  filepath.Join(dir, "datasources.yaml"),
			Watch: true,
		},
	}
}

// Load loads configuration. An explicit path must exist; otherwise config.yaml
// is looked up in the user config directory, "." and "./config", and a
// missing file leaves the defaults. DATAOPS_* environment variables override
// file values, e.g. DATAOPS_SERVER_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaults())

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Set config name and type
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Add config paths in priority order
		if dir, err := GetConfigPath(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Read config (it's okay if file doesn't exist, we have defaults)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.session_secret", d.Server.SessionSecret)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.workspace_idle_timeout", d.Server.WorkspaceIdleTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.page_size", d.History.PageSize)
	v.SetDefault("history.max_entries", d.History.MaxEntries)
	v.SetDefault("schema.page_size", d.Schema.PageSize)
	v.SetDefault("editor.language_id", d.Editor.LanguageID)
	v.SetDefault("editor.auto_complete", d.Editor.AutoComplete)
	v.SetDefault("editor.extra_keywords", d.Editor.ExtraKeywords)
	v.SetDefault("search.case_insensitive", d.Search.CaseInsensitive)
	v.SetDefault("performance.max_conns", d.Performance.MaxConns)
	v.SetDefault("performance.query_timeout", d.Performance.QueryTimeout)
	v.SetDefault("datasources.path", d.DataSources.Path)
	v.SetDefault("datasources.watch", d.DataSources.Watch)
}

// GetConfigPath returns the user config directory path
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, AppName), nil
}
