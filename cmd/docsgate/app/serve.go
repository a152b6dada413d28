// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/docsgate/docsgate/pkg/authserver"
	"github.com/docsgate/docsgate/pkg/authserver/upstream"
	"github.com/docsgate/docsgate/pkg/config"
	"github.com/docsgate/docsgate/pkg/gateway"
	"github.com/docsgate/docsgate/pkg/identity"
	"github.com/docsgate/docsgate/pkg/logger"
	"github.com/docsgate/docsgate/pkg/session"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the docsgate server",
		Long: `Start the docsgate server: OAuth authorization endpoints, the
bearer-protected MCP endpoint, and the protocol session manager. The
server runs until it receives SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Infof("Starting docsgate on %s (issuer %s)", cfg.Listen.Address, cfg.Listen.Issuer)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close token store: %v", err)
		}
	}()

	upstreamProvider, err := buildUpstreamProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create upstream provider: %w", err)
	}

	auth := authserver.New(store, upstreamProvider, authserver.Config{
		Issuer:          cfg.Listen.Issuer,
		AuthCodeTTL:     cfg.Tokens.AuthCodeTTL,
		AccessTokenTTL:  cfg.Tokens.AccessTokenTTL,
		RefreshTokenTTL: cfg.Tokens.RefreshTokenTTL,
		FailureLimit:    cfg.Tokens.FailureLimit,
		FailureWindow:   cfg.Tokens.FailureWindow,
	})

	sessions := session.NewManager(session.Config{
		IdleTimeout:         cfg.Sessions.IdleTimeout,
		SweepInterval:       cfg.Sessions.SweepInterval,
		HealthProbeInterval: cfg.Sessions.HealthProbeInterval,
	})
	defer sessions.Stop()

	invoker, err := buildInvoker(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to create downstream invoker: %w", err)
	}

	gw, err := gateway.New(auth, sessions, invoker, store, gateway.Config{
		Name:   "docsgate",
		Issuer: cfg.Listen.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Listen.Address,
		Handler:           gw.Router(),
		ReadHeaderTimeout: serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("Server listening on %s", cfg.Listen.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()

		if err := gw.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Failed to drain MCP transport: %v", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		store, err := tokenstore.NewRedisStore(ctx, tokenstore.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Username:  cfg.Store.Redis.Username,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Infof("Using redis token store at %s", cfg.Store.Redis.Addr)
		return store, nil
	default:
		logger.Info("Using in-memory token store")
		return tokenstore.NewMemoryStore(), nil
	}
}

func buildUpstreamProvider(ctx context.Context, cfg *config.Config) (authserver.UpstreamProvider, error) {
	base := upstream.Config{
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		RedirectURI:  cfg.RedirectURI(),
		Scopes:       cfg.Upstream.Scopes,
	}

	if cfg.Upstream.Mode == config.UpstreamModeOIDC {
		return upstream.NewOIDCProvider(ctx, &upstream.OIDCConfig{
			Config: base,
			Issuer: cfg.Upstream.Issuer,
		})
	}

	base.AuthorizationEndpoint = cfg.Upstream.AuthorizationEndpoint
	base.TokenEndpoint = cfg.Upstream.TokenEndpoint
	base.UserInfoEndpoint = cfg.Upstream.UserInfoEndpoint
	base.RevocationEndpoint = cfg.Upstream.RevocationEndpoint
	return upstream.NewOAuth2Provider(&base)
}

// buildInvoker assembles the downstream invoker: a static service
// credential by default, or per-user tokens through the identity bridge
// when the document API runs its own OAuth.
func buildInvoker(cfg *config.Config, store tokenstore.Store) (gateway.Invoker, error) {
	var credentials gateway.CredentialSource

	if cfg.Downstream.Mode == config.DownstreamModeOAuth {
		provider, err := upstream.NewOAuth2Provider(&upstream.Config{
			ClientID:              cfg.Downstream.OAuth.ClientID,
			ClientSecret:          cfg.Downstream.OAuth.ClientSecret,
			RedirectURI:           cfg.RedirectURI(),
			Scopes:                cfg.Downstream.OAuth.Scopes,
			AuthorizationEndpoint: cfg.Downstream.OAuth.AuthorizationEndpoint,
			TokenEndpoint:         cfg.Downstream.OAuth.TokenEndpoint,
			UserInfoEndpoint:      cfg.Downstream.OAuth.UserInfoEndpoint,
			RevocationEndpoint:    cfg.Downstream.OAuth.RevocationEndpoint,
		})
		if err != nil {
			return nil, err
		}
		bridge := identity.New(store, provider)
		credentials = gateway.BridgeCredential(bridge)
	} else {
		credentials = gateway.StaticCredential(cfg.Downstream.ServiceToken)
	}

	opts := []gateway.HTTPInvokerOption{}
	if cfg.Downstream.Timeout > 0 {
		opts = append(opts, gateway.WithInvokeTimeout(cfg.Downstream.Timeout))
	}
	return gateway.NewHTTPInvoker(cfg.Downstream.BaseURL, credentials, opts...)
}
