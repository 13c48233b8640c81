package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "COURSESYNC"
	defaultHTTPAddress   = "127.0.0.1:8787"
	defaultDatabasePath  = "coursesync.db"
	defaultLogLevel      = "info"
	defaultSyncInterval  = 5 * time.Minute
	defaultStartupOnline = true
)

// AppConfig captures runtime configuration for the sync engine.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	RemoteBaseURL  string
	RemoteToken    string
	RemoteNonce    string
	RemoteUsername string
	RemotePassword string
	UserID         int64
	AutoSync       bool
	SyncInterval   time.Duration
	StartOnline    bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", "")
	configViper.SetDefault("user.id", 0)
	configViper.SetDefault("sync.auto", false)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.start_online", defaultStartupOnline)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		RemoteBaseURL:  configViper.GetString("remote.base_url"),
		RemoteToken:    configViper.GetString("remote.token"),
		RemoteNonce:    configViper.GetString("remote.nonce"),
		RemoteUsername: configViper.GetString("remote.username"),
		RemotePassword: configViper.GetString("remote.password"),
		UserID:         configViper.GetInt64("user.id"),
		AutoSync:       configViper.GetBool("sync.auto"),
		SyncInterval:   configViper.GetDuration("sync.interval"),
		StartOnline:    configViper.GetBool("sync.start_online"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.UserID < 0 {
		return fmt.Errorf("user.id must not be negative")
	}
	if c.AutoSync && c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive when sync.auto is enabled")
	}
	return nil
}
