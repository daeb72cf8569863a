package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "NOTES"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "notes.db"
	defaultLogLevel     = "info"
	defaultPageSize     = 20
	defaultIdleTimeout  = 5 * time.Minute
)

// Viper keys shared with command-line flag bindings.
const (
	KeyHTTPAddress  = "http.address"
	KeyDatabasePath = "database.path"
	KeyLogLevel     = "log.level"
	KeyPageSize     = "list.page_size"
	KeyIdleTimeout  = "session.idle_timeout"
	KeyConfigFile   = "config"
)

// AppConfig captures runtime configuration for the API server. IdleTimeout closes screen
// sessions that nobody has touched or streamed from for that long.
type AppConfig struct {
	HTTPAddress  string        `validate:"required,hostname_port"`
	DatabasePath string        `validate:"required"`
	LogLevel     string        `validate:"required,oneof=debug info warn warning error"`
	PageSize     int           `validate:"min=1,max=500"`
	IdleTimeout  time.Duration `validate:"min=1s"`
}

var configValidator = validator.New()

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

	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeyPageSize, defaultPageSize)
	configViper.SetDefault(KeyIdleTimeout, defaultIdleTimeout)
}

// ReadFile merges the optional config file named by the "config" key.
// It reports whether a file was read.
func ReadFile(configViper *viper.Viper) (bool, error) {
	path := strings.TrimSpace(configViper.GetString(KeyConfigFile))
	if path == "" {
		return false, nil
	}
	configViper.SetConfigFile(path)
	if err := configViper.ReadInConfig(); err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	return true, nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  strings.TrimSpace(configViper.GetString(KeyHTTPAddress)),
		DatabasePath: strings.TrimSpace(configViper.GetString(KeyDatabasePath)),
		LogLevel:     strings.ToLower(strings.TrimSpace(configViper.GetString(KeyLogLevel))),
		PageSize:     configViper.GetInt(KeyPageSize),
		IdleTimeout:  configViper.GetDuration(KeyIdleTimeout),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

var fieldKeys = map[string]string{
	"HTTPAddress":  KeyHTTPAddress,
	"DatabasePath": KeyDatabasePath,
	"LogLevel":     KeyLogLevel,
	"PageSize":     KeyPageSize,
	"IdleTimeout":  KeyIdleTimeout,
}

func (c AppConfig) validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err
	}
	first := fieldErrors[0]
	key := fieldKeys[first.Field()]
	if first.Tag() == "required" {
		return fmt.Errorf("%s is required", key)
	}
	return fmt.Errorf("%s is invalid: %v", key, first.Value())
}
