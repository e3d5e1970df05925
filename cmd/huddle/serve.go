// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/metrics"
	"github.com/sigil-dev/huddle/internal/secrets"
	"github.com/sigil-dev/huddle/internal/server"
	"github.com/sigil-dev/huddle/internal/store"
	_ "github.com/sigil-dev/huddle/internal/store/memory" // register memory backend
	_ "github.com/sigil-dev/huddle/internal/store/sqlite" // register sqlite backend
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the huddle gateway",
		Long:  "Open the configured store and serve the REST and watch API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().String("seed", "", "YAML fixtures to load before serving")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cfg := e.cfg
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Networking.Listen = listen
	}
	if cfg.Storage.Backend == "remote" {
		return huddleerr.New(huddleerr.CodeCLIInputInvalid, "serve needs a local storage backend (memory or sqlite)")
	}

	secret, err := ensureSigningSecret(e)
	if err != nil {
		return err
	}
	tokens, err := identity.NewTokens(secret, identity.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}

	st, err := store.Open(&store.StorageConfig{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if seed, _ := cmd.Flags().GetString("seed"); seed != "" {
		if err := seedStore(ctx, st, seed, e.logger); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc, err := server.NewServices(st,
		server.WithBackendName(cfg.Storage.Backend),
		server.WithTokens(tokens),
		server.WithProtectedCollections(cfg.Client.ProtectedCollections...),
		server.WithMetrics(metrics.New(reg), reg),
		server.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
	}, svc)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "huddle gateway on %s (%s backend)\n", cfg.Networking.Listen, cfg.Storage.Backend)
	return srv.Start(ctx)
}

func seedStore(ctx context.Context, st store.Store, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return huddleerr.Wrapf(err, huddleerr.CodeCLIInputInvalid, "opening seed file %s", path)
	}
	defer f.Close()

	n, err := store.LoadFixtures(ctx, f, st)
	if err != nil {
		return err
	}
	logger.Info("seeded store", "documents", n, "file", path)
	return nil
}

// ensureSigningSecret returns the token secret. A keyring reference with no
// entry yet gets a fresh random secret, so the first serve on a machine
// works without setup and later logins sign with the same key.
func ensureSigningSecret(e *env) (string, error) {
	secret, err := e.cfg.SigningSecret()
	if err == nil {
		return secret, nil
	}
	key, ok := secrets.Key(e.cfg.Auth.Secret)
	if !ok {
		return "", err
	}
	if _, getErr := e.secrets.Get(key); !huddleerr.IsNotFound(getErr) {
		// The entry exists but could not be read; generating would clobber it.
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", huddleerr.Wrap(err, huddleerr.CodeCLISetupFailure, "generating signing secret")
	}
	secret = hex.EncodeToString(buf)
	if err := e.secrets.Set(key, secret); err != nil {
		return "", err
	}
	e.cfg.Auth.Secret = secret
	e.logger.Info("generated token signing secret", "keyring_key", key)
	return secret, nil
}
