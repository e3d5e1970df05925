// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/relcache"
	"github.com/sigil-dev/huddle/internal/store"
)

func newBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block USER",
		Short: "Block a user",
		Long:  "Record that the signed-in user blocks USER. Neither side can message the other afterwards.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationship(cmd, args[0], true)
		},
	}
}

func newUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock USER",
		Short: "Remove a block on a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationship(cmd, args[0], false)
		},
	}
}

func newRelationshipCache(e *env, f store.Fetcher) *relcache.Cache {
	return relcache.New(relcache.StoreEdgeSource{Fetcher: f},
		relcache.WithTTL(e.cfg.Cache.RelationshipTTL),
		relcache.WithLogger(e.logger),
	)
}

func runRelationship(cmd *cobra.Command, other string, block bool) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	me, err := e.requireUser()
	if err != nil {
		return err
	}
	st, err := e.openRemote()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	cache := newRelationshipCache(e, st)
	verb := "Blocked"
	if block {
		err = cache.Block(ctx, st, me, other)
	} else {
		verb = "Unblocked"
		err = cache.Unblock(ctx, st, me, other)
	}
	if err != nil {
		return err
	}

	status, err := cache.PairStatus(ctx, me, other)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s %s\n", verb, other)
	_, _ = fmt.Fprintf(out, "can message: %t, can view profile: %t\n", status.CanMessage(), status.CanViewProfile())
	return nil
}
