// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/secrets"
	"github.com/sigil-dev/huddle/internal/server"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the configuration, signing secret, stored session, gateway and disk space.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	e, err := loadEnv(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(w, "%-20s %s\n", "Config:", "error: "+err.Error())
		return nil
	}

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cmd) }},
		{"Storage", func() string { return checkStorage(e) }},
		{"Signing Secret", func() string { return checkSigningSecret(e) }},
		{"Session", func() string { return checkSession(e) }},
		{"Gateway", func() string { return checkGateway(e.cfg.Client.Server) }},
		{"Disk Space", func() string { return checkDiskSpace(e.cfg.Storage.Path) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("huddle %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		return "using defaults (no config file found)"
	}
	return fmt.Sprintf("loaded from %s", path)
}

func checkStorage(e *env) string {
	s := e.cfg.Storage
	switch s.Backend {
	case "memory":
		return "memory (data is lost on restart)"
	case "remote":
		return fmt.Sprintf("remote gateway at %s", s.Path)
	}
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return fmt.Sprintf("%s, data directory %s not created yet", s.Backend, s.Path)
	}
	return fmt.Sprintf("%s in %s", s.Backend, s.Path)
}

func checkSigningSecret(e *env) string {
	if _, err := e.cfg.SigningSecret(); err == nil {
		return "set"
	}
	if key, ok := secrets.Key(e.cfg.Auth.Secret); ok {
		return fmt.Sprintf("keyring entry %q missing (created by the first 'huddle serve')", key)
	}
	return "not set (set auth.secret)"
}

func checkSession(e *env) string {
	if user := e.session.UserID(); user != "" {
		return fmt.Sprintf("signed in to %s as %s", e.cfg.Client.Server, user)
	}
	return fmt.Sprintf("not signed in to %s", e.cfg.Client.Server)
}

func checkGateway(addr string) string {
	var body server.StatusBody
	if err := newGatewayClient(addr).getJSON(wire.PathStatus, &body); err != nil {
		if huddleerr.HasCode(err, huddleerr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'huddle serve')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (backend %s)", body.Status, addr, body.Backend)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
