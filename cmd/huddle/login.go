// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/secrets"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a gateway",
		Long: "Sign a token for a user with the configured secret and store it in the OS keyring. " +
			"The token is used by every command that talks to the same gateway.",
		RunE: runLogin,
	}

	cmd.Flags().String("user", "", "user ID to sign in as")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return huddleerr.New(huddleerr.CodeCLIInputInvalid, "--user is required")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	secret, err := e.cfg.SigningSecret()
	if err != nil {
		return huddleerr.Wrap(err, huddleerr.CodeCLISetupFailure, "no signing secret; run huddle serve once or set auth.secret")
	}
	tokens, err := identity.NewTokens(secret, identity.WithTTL(e.cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	token, err := tokens.Issue(user)
	if err != nil {
		return err
	}
	if err := e.secrets.Set(secrets.TokenKey(e.cfg.Client.Server), token); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in to %s as %s\n", e.cfg.Client.Server, user)
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token for a gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = e.secrets.Delete(secrets.TokenKey(e.cfg.Client.Server))
			switch {
			case huddleerr.IsNotFound(err):
				_, _ = fmt.Fprintf(out, "Not signed in to %s\n", e.cfg.Client.Server)
				return nil
			case err != nil:
				return err
			}
			e.session.SignOut()
			_, _ = fmt.Fprintf(out, "Signed out of %s\n", e.cfg.Client.Server)
			return nil
		},
	}
}
