// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/config"
	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/livequery"
	"github.com/sigil-dev/huddle/internal/secrets"
	"github.com/sigil-dev/huddle/internal/store/remote"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// newSecretStore opens the OS keyring. Tests swap in keyring.MockInit.
var newSecretStore = func() secrets.Store { return secrets.NewKeyring(secrets.Service) }

// env is what every command needs: configuration, the keyring and the
// signed-in session for the target gateway.
type env struct {
	cfg     *config.Config
	secrets secrets.Store
	session *identity.Session
	logger  *slog.Logger
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = discoverConfig()
	}
	if path != "" {
		config.WarnInsecurePermissions(path)
	}

	sec := newSecretStore()
	cfg, err := config.Load(path, sec)
	if err != nil {
		return nil, err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Client.Server = server
	}

	e := &env{cfg: cfg, secrets: sec, session: &identity.Session{}, logger: slog.Default()}
	e.restoreSession()
	return e, nil
}

// discoverConfig returns the default config path, writing the commented
// default on first run.
func discoverConfig() string {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return config.BootstrapConfig()
}

func (e *env) restoreSession() {
	token, err := e.secrets.Get(secrets.TokenKey(e.cfg.Client.Server))
	if err != nil {
		if !huddleerr.IsNotFound(err) {
			e.logger.Debug("reading stored token", "server", e.cfg.Client.Server, "error", err)
		}
		return
	}
	user, err := identity.Subject(token)
	if err != nil {
		e.logger.Warn("ignoring malformed stored token", "server", e.cfg.Client.Server, "error", err)
		return
	}
	e.session.SignIn(user, token)
}

// requireUser returns the signed-in user or a hint to log in.
func (e *env) requireUser() (string, error) {
	if user := e.session.UserID(); user != "" {
		return user, nil
	}
	return "", huddleerr.Errorf(huddleerr.CodeCLIInputInvalid, "not signed in to %s; run huddle login --user ID", e.cfg.Client.Server)
}

// openRemote connects to the configured gateway with the session token.
func (e *env) openRemote() (*remote.Store, error) {
	st, err := remote.New(e.cfg.Client.Server, remote.WithToken(e.session.Token), remote.WithLogger(e.logger))
	if err != nil {
		return nil, huddleerr.Wrap(err, huddleerr.CodeCLISetupFailure, "connecting to gateway")
	}
	return st, nil
}

func (e *env) liveClient(src livequery.Source, opts ...livequery.Option) *livequery.Client {
	base := []livequery.Option{
		livequery.WithIdentity(e.session),
		livequery.WithProtectedCollections(e.cfg.Client.ProtectedCollections...),
		livequery.WithOneShotTTL(e.cfg.Cache.OneShotTTL),
		livequery.WithPageSize(e.cfg.Pagination.PageSize),
		livequery.WithLogger(e.logger),
	}
	return livequery.NewClient(src, append(base, opts...)...)
}
