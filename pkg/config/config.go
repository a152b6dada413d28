// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the server configuration from a
// YAML file and DOCSGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// Upstream identity provider modes.
const (
	UpstreamModeOIDC   = "oidc"
	UpstreamModeOAuth2 = "oauth2"
)

// Downstream credential modes.
const (
	DownstreamModeService = "service"
	DownstreamModeOAuth   = "oauth"
)

// Config is the full server configuration.
type Config struct {
	Listen     ListenConfig     `mapstructure:"listen"`
	Store      StoreConfig      `mapstructure:"store"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Tokens     TokenConfig      `mapstructure:"tokens"`
	Sessions   SessionConfig    `mapstructure:"sessions"`
}

// ListenConfig holds the HTTP listener settings.
type ListenConfig struct {
	// Address is the host:port to bind.
	Address string `mapstructure:"address"`

	// Issuer is the externally reachable base URL of this server. It
	// becomes the OAuth issuer identifier and the base for redirect
	// URIs, so it must match what clients see.
	Issuer string `mapstructure:"issuer"`
}

// StoreConfig selects and configures the token store backend.
type StoreConfig struct {
	Backend string           `mapstructure:"backend"`
	Redis   RedisStoreConfig `mapstructure:"redis"`
}

// RedisStoreConfig holds Redis connection settings.
type RedisStoreConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// UpstreamConfig describes the identity provider users authenticate
// against. In OIDC mode the endpoints come from discovery; in plain
// OAuth2 mode they must be set explicitly.
type UpstreamConfig struct {
	Mode         string   `mapstructure:"mode"`
	Issuer       string   `mapstructure:"issuer"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`

	AuthorizationEndpoint string `mapstructure:"authorization_endpoint"`
	TokenEndpoint         string `mapstructure:"token_endpoint"`
	UserInfoEndpoint      string `mapstructure:"userinfo_endpoint"`
	RevocationEndpoint    string `mapstructure:"revocation_endpoint"`
}

// DownstreamConfig describes the document API behind the gateway.
type DownstreamConfig struct {
	// BaseURL is the document API root.
	BaseURL string `mapstructure:"base_url"`

	// Mode selects how downstream calls are authorized: "service" uses
	// one static credential for all callers, "oauth" runs a per-user
	// authorization against the document API itself.
	Mode string `mapstructure:"mode"`

	// ServiceToken is the static credential for service mode.
	ServiceToken string `mapstructure:"service_token"`

	// OAuth configures the per-user handshake for oauth mode.
	OAuth DownstreamOAuthConfig `mapstructure:"oauth"`

	// Timeout bounds each downstream call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DownstreamOAuthConfig holds the document API's own OAuth settings.
type DownstreamOAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`

	AuthorizationEndpoint string `mapstructure:"authorization_endpoint"`
	TokenEndpoint         string `mapstructure:"token_endpoint"`
	UserInfoEndpoint      string `mapstructure:"userinfo_endpoint"`
	RevocationEndpoint    string `mapstructure:"revocation_endpoint"`
}

// TokenConfig holds lifetimes and abuse limits for issued credentials.
// Zero values take the authorization server defaults.
type TokenConfig struct {
	AuthCodeTTL     time.Duration `mapstructure:"auth_code_ttl"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	FailureLimit  int           `mapstructure:"failure_limit"`
	FailureWindow time.Duration `mapstructure:"failure_window"`
}

// SessionConfig holds the protocol session timers. Zero values take the
// session manager defaults.
type SessionConfig struct {
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	HealthProbeInterval time.Duration `mapstructure:"health_probe_interval"`
}

// RedirectURI returns the callback URL registered with the upstream
// identity provider, derived from the issuer.
func (c *Config) RedirectURI() string {
	return strings.TrimRight(c.Listen.Issuer, "/") + "/auth/callback"
}

// Load reads the configuration from path (optional when empty) and the
// environment. Environment variables use the DOCSGATE_ prefix with
// underscores for nesting, e.g. DOCSGATE_STORE_BACKEND=redis.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen.address", ":8080")
	v.SetDefault("store.backend", StoreBackendMemory)
	v.SetDefault("store.redis.key_prefix", "docsgate:")
	v.SetDefault("upstream.mode", UpstreamModeOIDC)
	v.SetDefault("downstream.mode", DownstreamModeService)
	v.SetDefault("downstream.timeout", 30*time.Second)

	v.SetEnvPrefix("DOCSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if c.Listen.Issuer == "" {
		return errors.New("listen.issuer is required")
	}
	u, err := url.Parse(c.Listen.Issuer)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("listen.issuer must be an absolute URL: %q", c.Listen.Issuer)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if err := c.validateUpstream(); err != nil {
		return err
	}
	return c.validateDownstream()
}

func (c *Config) validateUpstream() error {
	if c.Upstream.ClientID == "" {
		return errors.New("upstream.client_id is required")
	}

	switch c.Upstream.Mode {
	case UpstreamModeOIDC:
		if c.Upstream.Issuer == "" {
			return errors.New("upstream.issuer is required in oidc mode")
		}
	case UpstreamModeOAuth2:
		if c.Upstream.AuthorizationEndpoint == "" || c.Upstream.TokenEndpoint == "" {
			return errors.New("upstream.authorization_endpoint and upstream.token_endpoint are required in oauth2 mode")
		}
		if c.Upstream.UserInfoEndpoint == "" {
			return errors.New("upstream.userinfo_endpoint is required in oauth2 mode")
		}
	default:
		return fmt.Errorf("unknown upstream mode %q", c.Upstream.Mode)
	}
	return nil
}

func (c *Config) validateDownstream() error {
	if c.Downstream.BaseURL == "" {
		return errors.New("downstream.base_url is required")
	}

	switch c.Downstream.Mode {
	case DownstreamModeService:
		if c.Downstream.ServiceToken == "" {
			return errors.New("downstream.service_token is required in service mode")
		}
	case DownstreamModeOAuth:
		o := c.Downstream.OAuth
		if o.ClientID == "" {
			return errors.New("downstream.oauth.client_id is required in oauth mode")
		}
		if o.AuthorizationEndpoint == "" || o.TokenEndpoint == "" || o.UserInfoEndpoint == "" {
			return errors.New("downstream.oauth endpoints (authorization, token, userinfo) are required in oauth mode")
		}
	default:
		return fmt.Errorf("unknown downstream mode %q", c.Downstream.Mode)
	}
	return nil
}
