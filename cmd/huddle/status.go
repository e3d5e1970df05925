// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/server"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Query the gateway's status endpoint and print its backend, open watches and the stored session.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	addr := e.cfg.Client.Server
	out := cmd.OutOrStdout()

	var body server.StatusBody
	if err := newGatewayClient(addr).getJSON(wire.PathStatus, &body); err != nil {
		if huddleerr.HasCode(err, huddleerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Gateway at %s: %s (backend %s, %d open watches)\n", addr, body.Status, body.Backend, body.Watches)
	if user := e.session.UserID(); user != "" {
		_, _ = fmt.Fprintf(out, "Signed in as %s\n", user)
	} else {
		_, _ = fmt.Fprintln(out, "Not signed in")
	}
	return nil
}
