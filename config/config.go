// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"

	"codeberg.org/casebook/casebook/core/audit"
	"codeberg.org/casebook/casebook/core/idgen"
)

// Global exposes the server configuration.
var Global ServerConfig

// ServerConfig holds the application configuration.
type ServerConfig struct {
	Basic struct {
		Host                     string      `env:"CASEBOOK_HOST,overwrite" yaml:"host"`
		Port                     string      `env:"CASEBOOK_PORT,overwrite" yaml:"port"`
		UnixSocket               string      `env:"CASEBOOK_UNIXSOCKET" yaml:"unixSocket"`
		RawUnixSocketPermissions string      `env:"CASEBOOK_UNIXSOCKET_PERMISSIONS" yaml:"unixSocketPermissions"`
		UnixSocketPermissions    os.FileMode `yaml:"-"`
	} `yaml:"basic"`

	Database struct {
		Path string `env:"CASEBOOK_DATABASE_PATH,overwrite" yaml:"path"`
	} `yaml:"database"`

	Media struct {
		Directory string `env:"CASEBOOK_MEDIA_DIRECTORY,overwrite" yaml:"directory"`
	} `yaml:"media"`

	Session struct {
		CookieName      string        `env:"CASEBOOK_SESSION_COOKIE_NAME,overwrite" yaml:"cookieName"`
		Lifetime        time.Duration `env:"CASEBOOK_SESSION_LIFETIME,overwrite" yaml:"lifetime"`
		HumanLag        time.Duration `env:"CASEBOOK_SESSION_HUMAN_LAG,overwrite" yaml:"humanLag"`
		CleanupInterval time.Duration `env:"CASEBOOK_SESSION_CLEANUP_INTERVAL,overwrite" yaml:"cleanupInterval"`
	} `yaml:"session"`

	Captcha struct {
		DataFile         string        `env:"CASEBOOK_CAPTCHA_DATA,overwrite" yaml:"dataFile"`
		Normals          int           `env:"CASEBOOK_CAPTCHA_NORMALS,overwrite" yaml:"normals"`
		Oddballs         int           `env:"CASEBOOK_CAPTCHA_ODDBALLS,overwrite" yaml:"oddballs"`
		AnswerWindow     time.Duration `env:"CASEBOOK_CAPTCHA_ANSWER_WINDOW,overwrite" yaml:"answerWindow"`
		QuarantineWindow time.Duration `env:"CASEBOOK_CAPTCHA_QUARANTINE_WINDOW,overwrite" yaml:"quarantineWindow"`
		ReplyThrottle    time.Duration `env:"CASEBOOK_CAPTCHA_REPLY_THROTTLE,overwrite" yaml:"replyThrottle"`
	} `yaml:"captcha"`

	Log struct {
		Level string `env:"CASEBOOK_LOG_LEVEL,overwrite" yaml:"logLevel"`
	} `yaml:"log"`

	Limiter struct {
		Enabled       bool     `env:"CASEBOOK_LIMITER,overwrite" yaml:"enabled"`
		PassIPs       []string `env:"CASEBOOK_LIMITER_PASS_IPS,overwrite" yaml:"passList"`
		BlockIPs      []string `env:"CASEBOOK_LIMITER_BLOCK_IPS,overwrite" yaml:"blockList"`
		FilterLocal   bool     `env:"CASEBOOK_LIMITER_FILTER_LOCAL,overwrite" yaml:"filterLocal"`
		IPv4Prefix    int      `env:"CASEBOOK_LIMITER_IPV4_PREFIX,overwrite" yaml:"ipv4Prefix"`
		IPv6Prefix    int      `env:"CASEBOOK_LIMITER_IPV6_PREFIX,overwrite" yaml:"ipv6Prefix"`
		CheckHeaders  bool     `env:"CASEBOOK_LIMITER_CHECK_HEADERS,overwrite" yaml:"checkHeaders"`
		StateFilepath string   `env:"CASEBOOK_LIMITER_STATE_FILEPATH,overwrite" yaml:"stateFilepath"`
	} `yaml:"limiter"`

	Development struct {
		InDevelopment bool `env:"CASEBOOK_DEV" yaml:"inDevelopment"`
	} `yaml:"development"`

	Instance struct {
		StartingTime string `yaml:"-"`
		InstanceID   string `yaml:"-"`
	} `yaml:"instance"`
}

// LoadConfig loads the configuration from various sources.
//
// Precedence for the config file path:
//  1. Command-line flag (-config)
//  2. Environment variable (CASEBOOK_CONFIGFILE)
//  3. Default path with a ./config.yml fallback check
func (cfg *ServerConfig) LoadConfig() error {
	parsedConfigFlagValue := parseCommandLineArgs()

	configFlagUserSet := false

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configFlagUserSet = true
		}
	})

	var configFilePath string

	switch {
	case configFlagUserSet:
		configFilePath = parsedConfigFlagValue
	case os.Getenv("CASEBOOK_CONFIGFILE") != "":
		configFilePath = os.Getenv("CASEBOOK_CONFIGFILE")
	default:
		configFilePath = parsedConfigFlagValue

		if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
			ymlPath := "./config.yml"
			if _, statErr := os.Stat(ymlPath); statErr == nil {
				configFilePath = ymlPath
			}
		}
	}

	cfg.SetDefaults()

	cfg.Instance.InstanceID = idgen.Make()
	cfg.Instance.StartingTime = time.Now().UTC().Format("2006-01-02 15:04")

	if err := cfg.readYAML(configFilePath); err != nil {
		return fmt.Errorf("error loading YAML config: %w", err)
	}

	if err := useDotEnv(); err != nil {
		return fmt.Errorf("error using .env file: %w", err)
	}

	if err := readEnv(cfg); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	if err := cfg.validateAndSet(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	audit.ApplyLogLevel(cfg.Log.Level)

	cfg.print()

	return nil
}

// parseCommandLineArgs defines and parses flags, returning the value of the "config" flag.
func parseCommandLineArgs() string {
	var configFilePath string

	if flag.Lookup("config") == nil {
		flag.StringVar(&configFilePath, "config", "./config.yaml", "Path to a Casebook configuration file in YAML format.")
	}

	if !flag.Parsed() {
		flag.Parse()
	}

	return configFilePath
}

var staticSkippedPathPrefixes = []string{"/img/", "/css/", "/js/"}

// ShouldSkipServerLogging determines if a request should bypass the logging middleware.
func (cfg *ServerConfig) ShouldSkipServerLogging(path string) bool {
	for _, prefix := range staticSkippedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

func (cfg *ServerConfig) print() {
	log.Info().
		Str("instance_id", cfg.Instance.InstanceID).
		Msg("Starting Casebook")

	configYAML, err := yaml.MarshalWithOptions(
		*cfg,
		GetDurationEncoderOption(),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config to YAML for printing")

		return
	}

	log.Info().Msg("Application configuration:")
	fmt.Fprintln(os.Stderr, string(configYAML))
}

// GetDurationEncoderOption returns a YAML encoder option that marshals
// time.Duration into a human-readable string format (e.g., "30m", "1h").
func GetDurationEncoderOption() yaml.EncodeOption {
	return yaml.CustomMarshaler[time.Duration](
		func(d time.Duration) ([]byte, error) {
			return yaml.Marshal(d.String())
		},
	)
}
