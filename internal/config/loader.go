package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. FLEETCTL_SERVER_URL.
const EnvPrefix = "FLEETCTL"

// Loader reads configuration from file, .env and environment.
type Loader struct {
	configFile string
	viper      *viper.Viper
}

// NewLoader creates a loader around v. A nil v gets a fresh viper instance.
// An empty configFile searches the working directory and the fleetctl home.
func NewLoader(v *viper.Viper, configFile string) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{configFile: configFile, viper: v}
}

// Load resolves the configuration. A missing config file is not an error;
// a malformed one is.
func (l *Loader) Load() (*Config, error) {
	// .env is optional and never overrides variables already exported.
	_ = godotenv.Load()

	l.viper.SetConfigType("yaml")
	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()

	l.setDefaults()

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.viper.SetConfigFile(l.configFile)
		if err := l.viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", l.configFile)
		}
		return nil
	}

	l.viper.SetConfigName("fleetctl")
	l.viper.AddConfigPath(".")
	if home, err := HomeDir(); err == nil {
		l.viper.AddConfigPath(home)
	}
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

func (l *Loader) setDefaults() {
	l.viper.SetDefault("server.url", "http://localhost:8000")

	l.viper.SetDefault("api.request_timeout", 30*time.Second)

	l.viper.SetDefault("auth.token", "")
	l.viper.SetDefault("auth.username", "admin")
	l.viper.SetDefault("auth.credentials_file", "")

	l.viper.SetDefault("log.level", "info")
	l.viper.SetDefault("log.format", "text")
	l.viper.SetDefault("log.output", "stderr")
	l.viper.SetDefault("log.file_path", "")
	l.viper.SetDefault("log.max_size", 10)
	l.viper.SetDefault("log.max_backups", 3)
	l.viper.SetDefault("log.max_age", 7)
	l.viper.SetDefault("log.compress", false)
	l.viper.SetDefault("log.caller", false)

	l.viper.SetDefault("ui.filter", "all")
	l.viper.SetDefault("ui.refresh_notice", 3*time.Second)
}

// Validate checks cross-field constraints viper cannot express.
func Validate(cfg *Config) error {
	if cfg.Server == nil || strings.TrimSpace(cfg.Server.URL) == "" {
		return errors.New("server.url is required")
	}
	if cfg.API == nil {
		cfg.API = &APIConfig{}
	}
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = 30 * time.Second
	}
	if cfg.Auth == nil {
		cfg.Auth = &AuthConfig{}
	}
	if cfg.Log == nil {
		cfg.Log = &LogConfig{Level: "info", Format: "text", Output: "stderr"}
	}
	if strings.EqualFold(cfg.Log.Output, "file") && cfg.Log.FilePath == "" {
		return errors.New("log.file_path is required when log.output is file")
	}
	if cfg.UI == nil {
		cfg.UI = &UIConfig{Filter: "all", NoticeTimeout: 3 * time.Second}
	}
	return nil
}

// HomeDir is the fleetctl state directory: $FLEETCTL_HOME, else ~/.fleetctl.
func HomeDir() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".fleetctl"), nil
}

// CredentialsPath resolves where the bearer token is persisted.
func (c *Config) CredentialsPath() (string, error) {
	if c.Auth != nil && c.Auth.CredentialsFile != "" {
		return c.Auth.CredentialsFile, nil
	}
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "credentials.json"), nil
}
