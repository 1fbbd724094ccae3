package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "SOFANOTES"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "sofanotes.db"
	defaultLogLevel       = "info"
	defaultPreviewLength  = 100
	defaultAppName        = "SOFA Notes"
	defaultNotifyTimeout  = 10
	defaultSofaExecutable = "runSofa"
	defaultExamplesDir    = "examples"
	defaultHistoryFile    = "sofa_history.json"
	defaultHistoryLimit   = 30
)

// ServerConfig captures runtime configuration for the comment store service.
type ServerConfig struct {
	HTTPAddress    string
	DatabasePath   string
	RedisURL       string
	AllowedOrigins []string
	LogLevel       string
}

// NotifyConfig controls new-comment alerts in the client.
type NotifyConfig struct {
	Enabled       bool
	Desktop       bool
	PreviewLength int
	AppName       string
	Timeout       time.Duration
}

// ClientConfig captures runtime configuration for the sofanotes client.
type ClientConfig struct {
	StoreURL       string
	DatabasePath   string
	UserName       string
	LogLevel       string
	Notify         NotifyConfig
	SofaExecutable string
	ExamplesDir    string
	HistoryPath    string
	HistoryLimit   int
}

// Standalone reports whether the client runs against a local database instead of a store service.
func (c ClientConfig) Standalone() bool {
	return strings.TrimSpace(c.StoreURL) == ""
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

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("store.url", "")
	configViper.SetDefault("user.name", "")
	configViper.SetDefault("notify.enabled", true)
	configViper.SetDefault("notify.desktop", true)
	configViper.SetDefault("notify.preview_length", defaultPreviewLength)
	configViper.SetDefault("notify.app_name", defaultAppName)
	configViper.SetDefault("notify.timeout_seconds", defaultNotifyTimeout)
	configViper.SetDefault("sofa.executable", defaultSofaExecutable)
	configViper.SetDefault("sofa.examples_dir", defaultExamplesDir)
	configViper.SetDefault("history.path", defaultHistoryPath())
	configViper.SetDefault("history.limit", defaultHistoryLimit)
}

// LoadServer parses the store service configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		RedisURL:       configViper.GetString("redis.url"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the client configuration from viper. An empty user.name falls back to the
// operating system login.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		StoreURL:     configViper.GetString("store.url"),
		DatabasePath: configViper.GetString("database.path"),
		UserName:     strings.TrimSpace(configViper.GetString("user.name")),
		LogLevel:     configViper.GetString("log.level"),
		Notify: NotifyConfig{
			Enabled:       configViper.GetBool("notify.enabled"),
			Desktop:       configViper.GetBool("notify.desktop"),
			PreviewLength: configViper.GetInt("notify.preview_length"),
			AppName:       configViper.GetString("notify.app_name"),
			Timeout:       time.Duration(configViper.GetInt("notify.timeout_seconds")) * time.Second,
		},
		SofaExecutable: configViper.GetString("sofa.executable"),
		ExamplesDir:    configViper.GetString("sofa.examples_dir"),
		HistoryPath:    configViper.GetString("history.path"),
		HistoryLimit:   configViper.GetInt("history.limit"),
	}
	if cfg.UserName == "" {
		cfg.UserName = currentLogin()
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.UserName == "" {
		return fmt.Errorf("user.name is required")
	}
	if c.Standalone() && strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required when store.url is empty")
	}
	if c.Notify.PreviewLength <= 0 {
		return fmt.Errorf("notify.preview_length must be positive")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		return fmt.Errorf("history.path is required")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history.limit must be positive")
	}
	return nil
}

func currentLogin() string {
	if current, err := user.Current(); err == nil && current.Username != "" {
		name := current.Username
		// Windows reports DOMAIN\user.
		if index := strings.LastIndex(name, `\`); index >= 0 {
			name = name[index+1:]
		}
		return name
	}
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return defaultHistoryFile
	}
	return filepath.Join(dir, "sofanotes", defaultHistoryFile)
}
