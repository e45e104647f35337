package config

import (
	"time"
)

// Config is the full fleetctl configuration.
type Config struct {
	Server *ServerConfig `yaml:"server" mapstructure:"server"`
	API    *APIConfig    `yaml:"api" mapstructure:"api"`
	Auth   *AuthConfig   `yaml:"auth" mapstructure:"auth"`
	Log    *LogConfig    `yaml:"log" mapstructure:"log"`
	UI     *UIConfig     `yaml:"ui" mapstructure:"ui"`
}

// ServerConfig locates the FleetUpdate server.
type ServerConfig struct {
	URL string `yaml:"url" mapstructure:"url"` // base URL, e.g. https://fleet.example.com
}

// APIConfig tunes unary REST calls. Streams never time out.
type APIConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// AuthConfig holds the bearer credential and where it is persisted.
type AuthConfig struct {
	Token           string `yaml:"token" mapstructure:"token"`
	Username        string `yaml:"username" mapstructure:"username"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// LogConfig mirrors the logrus/lumberjack knobs.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // debug/info/warn/error
	Format     string `yaml:"format" mapstructure:"format"`           // text/json
	Output     string `yaml:"output" mapstructure:"output"`           // stdout/stderr/file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // required for output=file
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` //
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
	Caller     bool   `yaml:"caller" mapstructure:"caller"`
}

// UIConfig holds dashboard defaults.
type UIConfig struct {
	Filter        string        `yaml:"filter" mapstructure:"filter"`                 // all/outdated
	NoticeTimeout time.Duration `yaml:"refresh_notice" mapstructure:"refresh_notice"` // how long flash notices stay up
}
