// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `Set and delete secrets stored under the huddle service in the operating
system keyring. Config values of the form keyring://KEY read these entries.`,
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a secret by key",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		if err != nil && line == "" {
			return huddleerr.Wrap(err, huddleerr.CodeCLIInputInvalid, "reading secret from stdin")
		}
		return huddleerr.New(huddleerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := newSecretStore().Set(key, value); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\n", key)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := newSecretStore().Delete(key); err != nil {
		if huddleerr.IsNotFound(err) {
			return huddleerr.Errorf(huddleerr.CodeSecretNotFound, "secret %q not found", key)
		}
		return huddleerr.Errorf(huddleerr.CodeSecretDeleteFailure, "deleting secret %q: %w", key, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", key)
	return nil
}
