/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package config loads runtime settings from environment variables (and,
// optionally, a config file) via viper, with defaults matching a stock
// deployment. PortFor maps a protocol tag to its port field; cmd/baitline
// builds the listener descriptors from the flat port fields directly.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	libval "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sabouaram/baitline/internal/errs"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Host     string `mapstructure:"HOST" validate:"required"`
	HTTPPort int    `mapstructure:"WEB_PORT" validate:"required,min=1,max=65535"`

	SSHPort    int `mapstructure:"SSH_PORT" validate:"required,min=1,max=65535"`
	TelnetPort int `mapstructure:"TELNET_PORT" validate:"required,min=1,max=65535"`
	FTPPort    int `mapstructure:"FTP_PORT" validate:"required,min=1,max=65535"`
	SMTPPort   int `mapstructure:"SMTP_PORT" validate:"required,min=1,max=65535"`
	RDPPort    int `mapstructure:"RDP_PORT" validate:"required,min=1,max=65535"`
	SIPPort    int `mapstructure:"SIP_PORT" validate:"required,min=1,max=65535"`
	MySQLPort  int `mapstructure:"MYSQL_PORT" validate:"required,min=1,max=65535"`

	MaxThreads           int `mapstructure:"MAX_THREADS" validate:"required,min=1"`
	MaxConnectionsPerIP  int `mapstructure:"MAX_CONNECTIONS_PER_IP" validate:"required,min=1"`
	ConnectionTimeout    int `mapstructure:"CONNECTION_TIMEOUT" validate:"required,min=1"`
	MaxQueuedConnections int `mapstructure:"MAX_QUEUED_CONNECTIONS" validate:"required,min=1"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	LogLevel      string `mapstructure:"LOG_LEVEL" validate:"required,oneof=DEBUG INFO WARNING ERROR"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB" validate:"required,min=1"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS" validate:"min=0"`
	SyslogTag     string `mapstructure:"SYSLOG_TAG"`

	GeoCachePath  string `mapstructure:"GEO_CACHE_PATH" validate:"required"`
	GeoAPIBaseURL string `mapstructure:"GEO_API_BASE_URL" validate:"required,url"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

// Validate checks every constraint tag declared on Config, returning one
// errs.Error (code CodeConfig) naming every failing field and constraint,
// or nil when the configuration is well-formed.
func (c Config) Validate() error {
	err := libval.New().Struct(c)
	if err == nil {
		return nil
	}

	invalid, ok := err.(libval.ValidationErrors)
	if !ok {
		return errs.Wrap(errs.CodeConfig, "config: validate", err)
	}

	var msgs []string
	for _, fe := range invalid {
		msgs = append(msgs, fmt.Sprintf("%s fails constraint '%s'", fe.Namespace(), fe.ActualTag()))
	}
	return errs.New(errs.CodeConfig, "config: "+strings.Join(msgs, "; "))
}

// PortFor returns the configured port for a protocol tag (lowercase, as
// used in the data model's protocol enum), and ok=false for an unknown tag.
func (c Config) PortFor(protocol string) (int, bool) {
	switch strings.ToLower(protocol) {
	case "ssh":
		return c.SSHPort, true
	case "telnet":
		return c.TelnetPort, true
	case "ftp":
		return c.FTPPort, true
	case "smtp":
		return c.SMTPPort, true
	case "rdp":
		return c.RDPPort, true
	case "sip":
		return c.SIPPort, true
	case "mysql":
		return c.MySQLPort, true
	default:
		return 0, false
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("WEB_PORT", 8080)

	v.SetDefault("SSH_PORT", 22)
	v.SetDefault("TELNET_PORT", 23)
	v.SetDefault("FTP_PORT", 21)
	v.SetDefault("SMTP_PORT", 25)
	v.SetDefault("RDP_PORT", 3389)
	v.SetDefault("SIP_PORT", 5060)
	v.SetDefault("MYSQL_PORT", 3306)

	v.SetDefault("MAX_THREADS", 50)
	v.SetDefault("MAX_CONNECTIONS_PER_IP", 5)
	v.SetDefault("CONNECTION_TIMEOUT", 15)
	v.SetDefault("MAX_QUEUED_CONNECTIONS", 100)

	v.SetDefault("DATABASE_URL", "baitline.sqlite3")

	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_FILE", "honeypot.log")
	v.SetDefault("LOG_MAX_SIZE_MB", 5)
	v.SetDefault("LOG_MAX_BACKUPS", 10)
	v.SetDefault("SYSLOG_TAG", "")

	v.SetDefault("GEO_CACHE_PATH", "geolocation_cache.json")
	v.SetDefault("GEO_API_BASE_URL", "http://ip-api.com")

	v.SetDefault("METRICS_ENABLED", true)
}

// Load resolves configuration from the environment, overlaid by a config
// file at path if non-empty. Environment variables take precedence over
// file values, matching the deployment convention of a `.env`-less
// container where every key is also settable on the process environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Watch installs a callback invoked whenever the config file at path
// changes on disk. It is a no-op if path is empty. Watch does not reload
// or revalidate a Config itself; cmd/baitline does not call it, so every
// setting, listener ports and pool sizing included, is read once at
// startup by Load.
func Watch(path string, onChange func(fsnotify.Event)) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	v.OnConfigChange(onChange)
	v.WatchConfig()
	return nil
}
