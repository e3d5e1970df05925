// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package config loads huddle.yaml with HUDDLE_ environment overrides.
package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/secrets"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Config is the top-level huddle configuration.
type Config struct {
	Networking NetworkingConfig `mapstructure:"networking"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Client     ClientConfig     `mapstructure:"client"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Pagination PaginationConfig `mapstructure:"pagination"`
}

// NetworkingConfig controls where the gateway listens.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AuthConfig holds the token signing secret. Secret may be a keyring://key
// reference.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// ClientConfig is used by CLI commands that talk to a gateway.
type ClientConfig struct {
	Server               string   `mapstructure:"server"`
	ProtectedCollections []string `mapstructure:"protected_collections"`
}

// CacheConfig sets cache lifetimes.
type CacheConfig struct {
	RelationshipTTL time.Duration `mapstructure:"relationship_ttl"`
	OneShotTTL      time.Duration `mapstructure:"one_shot_ttl"`
}

// PaginationConfig sets pager defaults.
type PaginationConfig struct {
	PageSize int `mapstructure:"page_size"`
}

var validBackends = []string{"memory", "remote", "sqlite"}

// Load reads configuration from path (or defaults only when path is empty)
// with HUDDLE_ environment overrides. When sec is non-nil, keyring://
// references are resolved before validation.
func Load(path string, sec secrets.Store) (*Config, error) {
	v := viper.New()

	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("client.server", "127.0.0.1:18790")
	v.SetDefault("client.protected_collections", model.DefaultProtectedCollections)
	v.SetDefault("cache.relationship_ttl", "5m")
	v.SetDefault("cache.one_shot_ttl", "5m")
	v.SetDefault("pagination.page_size", 30)

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, huddleerr.Wrapf(err, huddleerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	if sec != nil {
		secrets.ResolveViper(v, sec)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, huddleerr.Wrap(err, huddleerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if cfg.Storage.Backend != "remote" {
		cfg.Storage.Path = expandHome(cfg.Storage.Path)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, huddleerr.Errorf(huddleerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, validateAddress("networking.listen", c.Networking.Listen)...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateAuth()...)
	if c.Client.Server != "" && !strings.Contains(c.Client.Server, "://") {
		errs = append(errs, validateAddress("client.server", c.Client.Server)...)
	}
	errs = append(errs, c.validateLimits()...)

	return errs
}

func validateAddress(key, addr string) []error {
	if addr == "" {
		return []error{invalid("config: %s must not be empty", key)}
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return []error{invalid("config: %s must be a valid host:port address, got %q", key, addr)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("config: %s port must be a number, got %q", key, portStr)}
	}
	if port < 1 || port > 65535 {
		return []error{invalid("config: %s port must be between 1 and 65535, got %d", key, port)}
	}
	return nil
}

func (c *Config) validateStorage() []error {
	var errs []error
	if !slices.Contains(validBackends, c.Storage.Backend) {
		errs = append(errs, invalid("config: storage.backend must be one of %v, got %q", validBackends, c.Storage.Backend))
	}
	if c.Storage.Backend == "remote" && c.Storage.Path == "" {
		errs = append(errs, invalid("config: storage.path must name the gateway when storage.backend is remote"))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, invalid("config: auth.token_ttl must be greater than 0, got %s", c.Auth.TokenTTL))
	}
	return errs
}

func (c *Config) validateLimits() []error {
	var errs []error
	if c.Cache.RelationshipTTL <= 0 {
		errs = append(errs, invalid("config: cache.relationship_ttl must be greater than 0, got %s", c.Cache.RelationshipTTL))
	}
	if c.Cache.OneShotTTL <= 0 {
		errs = append(errs, invalid("config: cache.one_shot_ttl must be greater than 0, got %s", c.Cache.OneShotTTL))
	}
	if c.Pagination.PageSize <= 0 {
		errs = append(errs, invalid("config: pagination.page_size must be greater than 0, got %d", c.Pagination.PageSize))
	}
	return errs
}

// SigningSecret returns the token secret. Only the gateway and login need
// it, so a missing secret is reported here rather than by Validate.
func (c *Config) SigningSecret() (string, error) {
	switch {
	case c.Auth.Secret == "":
		return "", invalid("config: auth.secret is not set")
	case secrets.IsURI(c.Auth.Secret):
		return "", invalid("config: auth.secret references keyring entry %q which could not be read", c.Auth.Secret)
	}
	return c.Auth.Secret, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func invalid(format string, args ...any) error {
	return huddleerr.Errorf(huddleerr.CodeConfigValidateInvalidValue, format, args...)
}
