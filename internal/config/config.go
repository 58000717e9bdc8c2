// Package config loads application settings from a YAML file,
// environment variables and defaults, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/keepsync/keepsync/internal/provider"
)

// DefaultDirName is the per-user application directory under $HOME.
const DefaultDirName = ".keepsync"

// Config is the full application configuration.
type Config struct {
	DBPath       string        `mapstructure:"db_path"`
	LogFile      string        `mapstructure:"log_file"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	WatchBackups bool          `mapstructure:"watch_backups"`
	Provider     string        `mapstructure:"provider"`

	Keep       KeepConfig       `mapstructure:"keep"`
	BackupFile BackupFileConfig `mapstructure:"backupfile"`
	GitHost    GitHostConfig    `mapstructure:"githost"`
}

// KeepConfig holds Keep-style API settings.
type KeepConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Email       string `mapstructure:"email"`
	MasterToken string `mapstructure:"master_token"`
}

// BackupFileConfig holds file-based cloud store settings.
type BackupFileConfig struct {
	Dir string `mapstructure:"dir"`
}

// GitHostConfig holds git-hosted store settings.
type GitHostConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Owner    string `mapstructure:"owner"`
	Repo     string `mapstructure:"repo"`
	Token    string `mapstructure:"token"`
}

// Load reads configuration from path, or from the default location
// when path is empty. A missing config file is fine; defaults and
// environment variables still apply. Environment variables use the
// KEEPSYNC_ prefix with underscores, e.g. KEEPSYNC_KEEP_EMAIL.
func Load(path string) (*Config, error) {
	v := viper.New()

	dir, err := defaultDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("db_path", filepath.Join(dir, "notes.db"))
	v.SetDefault("log_file", filepath.Join(dir, "keepsync.log"))
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("watch_backups", true)
	v.SetDefault("provider", provider.NameBackupFile)
	v.SetDefault("backupfile.dir", filepath.Join(dir, "backups"))
	v.SetDefault("githost.endpoint", "")

	v.SetEnvPrefix("KEEPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Credentials builds provider credentials for the named backend from
// the configured settings.
func (c *Config) Credentials(name string) (provider.Credentials, error) {
	switch name {
	case provider.NameKeep:
		return provider.Credentials{
			Account:  c.Keep.Email,
			Token:    c.Keep.MasterToken,
			Endpoint: c.Keep.Endpoint,
		}, nil
	case provider.NameBackupFile:
		return provider.Credentials{
			Container: c.BackupFile.Dir,
		}, nil
	case provider.NameGitHost:
		return provider.Credentials{
			Account:   c.GitHost.Owner,
			Container: c.GitHost.Repo,
			Token:     c.GitHost.Token,
			Endpoint:  c.GitHost.Endpoint,
		}, nil
	}
	return provider.Credentials{}, fmt.Errorf("unknown provider %q", name)
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}
