// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/livequery"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch COLLECTION",
		Short: "Print a live query as JSON lines",
		Long: `Watch a query on the gateway and print its full result set as one JSON line
every time it changes. With --once, print the current result and exit.

  huddle watch messages --where 'chatId == general' --order createdAt --desc --limit 20`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().String("where", "", `filter as "field op value"; value is JSON or a bare string`)
	cmd.Flags().String("order", "", "order by field")
	cmd.Flags().Bool("desc", false, "sort descending")
	cmd.Flags().Int("limit", 0, "maximum documents")
	cmd.Flags().Bool("once", false, "print one result and exit")

	return cmd
}

// parseWhere splits "field op value". The value is decoded as JSON when it
// parses, so numbers, booleans and arrays work; anything else is a string.
func parseWhere(s string) (string, query.Operator, any, error) {
	parts := strings.Fields(s)
	if len(parts) < 3 {
		return "", "", nil, huddleerr.Errorf(huddleerr.CodeCLIInputInvalid, "--where needs \"field op value\", got %q", s)
	}
	op := query.Operator(parts[1])
	if !op.Valid() {
		return "", "", nil, huddleerr.Errorf(huddleerr.CodeCLIInputInvalid, "unknown operator %q", parts[1])
	}
	raw := strings.Join(parts[2:], " ")
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return parts[0], op, value, nil
}

func watchDescriptor(cmd *cobra.Command, collection string) (query.Descriptor, error) {
	b := query.From(collection)
	if where, _ := cmd.Flags().GetString("where"); where != "" {
		field, op, value, err := parseWhere(where)
		if err != nil {
			return query.Descriptor{}, err
		}
		b = b.Where(field, op, value)
	}
	if order, _ := cmd.Flags().GetString("order"); order != "" {
		dir := query.Asc
		if desc, _ := cmd.Flags().GetBool("desc"); desc {
			dir = query.Desc
		}
		b = b.OrderBy(order, dir)
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		b = b.Limit(limit)
	}
	desc := b.Descriptor()
	if !query.Validate(desc) {
		return query.Descriptor{}, huddleerr.New(huddleerr.CodeCLIInputInvalid, "invalid query")
	}
	return desc, nil
}

// snapshotLine is one line of watch output.
type snapshotLine struct {
	Key       string              `json:"key"`
	Documents []document.Document `json:"documents"`
	Error     *wire.Error         `json:"error,omitempty"`
}

func writeSnapshot(w io.Writer, key string, r livequery.Result) error {
	line := snapshotLine{Key: key, Documents: r.Documents}
	if r.Err != nil {
		line.Error = wire.NewError(r.Err)
	}
	return json.NewEncoder(w).Encode(line)
}

func runWatch(cmd *cobra.Command, args []string) error {
	desc, err := watchDescriptor(cmd, args[0])
	if err != nil {
		return err
	}
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	st, err := e.openRemote()
	if err != nil {
		return err
	}
	defer st.Close()
	client := e.liveClient(st)
	defer client.Close()

	if e.session.UserID() == "" && slices.Contains(e.cfg.Client.ProtectedCollections, desc.Collection) {
		e.logger.Warn("collection needs a signed-in user; results stay empty", "collection", desc.Collection)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	out := cmd.OutOrStdout()

	once, _ := cmd.Flags().GetBool("once")
	view := client.Watch(ctx, desc, livequery.WatchOptions{Live: !once})
	defer view.Close()

	if once {
		snap := view.Snapshot()
		if err := writeSnapshot(out, view.Key(), snap); err != nil {
			return err
		}
		return snap.Err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-view.Changes():
			if !ok {
				return nil
			}
			snap := view.Snapshot()
			if snap.Loading {
				continue
			}
			if err := writeSnapshot(out, view.Key(), snap); err != nil {
				return err
			}
		}
	}
}
