// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/huddle/internal/livequery"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/relcache"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail ROOM",
		Short: "Open a room in the terminal",
		Long: `Show a room's messages live, newest at the bottom. Press k or up to load
older history, i to write, esc to stop writing and q to quit. In direct
conversations the composer is disabled while either side blocks the other.`,
		Args: cobra.ExactArgs(1),
		RunE: runTail,
	}

	cmd.Flags().Int("page-size", 0, "messages per page (default pagination.page_size)")

	return cmd
}

// RoomQuery is the descriptor for a room's messages, newest first.
func RoomQuery(room string) query.Descriptor {
	return query.From(model.CollectionMessages).
		Where("chatId", query.OpEqual, room).
		OrderBy("createdAt", query.Desc).
		Descriptor()
}

func runTail(cmd *cobra.Command, args []string) error {
	room := args[0]
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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client := e.liveClient(st)
	defer client.Close()

	size, _ := cmd.Flags().GetInt("page-size")
	pager := client.Paginate(ctx, RoomQuery(room), livequery.PageOptions{PageSize: size, Live: true})
	defer pager.Close()

	cache := newRelationshipCache(e, st)
	watcher, err := cache.Watch(ctx, client.Multiplexer(), me)
	if err != nil {
		return err
	}
	defer watcher.Close()

	deps := roomDeps{
		room: room,
		me:   me,
		feed: pager,
		send: func(ctx context.Context, text string) error {
			doc, err := model.Encode(model.NewMessage(room, me, text, time.Now()))
			if err != nil {
				return err
			}
			_, err = st.Create(ctx, model.CollectionMessages, doc)
			return err
		},
		gate: conversationGate(client, cache, room, me),
	}

	_, err = tea.NewProgram(newRoomModel(deps), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// ConversationQuery is the descriptor for the conversation record of room.
func ConversationQuery(room string) query.Descriptor {
	return query.From(model.CollectionConversations).
		Where("id", query.OpEqual, room).
		Descriptor()
}

// conversationGate allows sending in group rooms. In a conversation it asks
// the relationship cache, in one batch, whether me may message every other
// participant.
func conversationGate(client *livequery.Client, cache *relcache.Cache, room, me string) func(context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		view := livequery.WatchAs[model.Conversation](ctx, client, ConversationQuery(room), livequery.WatchOptions{}, nil)
		defer view.Close()
		convs, err := view.Items()
		if err != nil {
			return false, "checking conversation: " + err.Error()
		}
		if len(convs) == 0 {
			return true, ""
		}
		conv := convs[0]
		if !slices.Contains(conv.Participants, me) {
			return false, "you are not part of this conversation"
		}
		others := slices.DeleteFunc(slices.Clone(conv.Participants), func(p string) bool { return p == me })
		if len(others) == 0 {
			return true, ""
		}
		statuses, err := cache.BatchStatus(ctx, me, others)
		if err != nil {
			return false, "checking blocks: " + err.Error()
		}
		for _, other := range others {
			if !statuses[other].CanMessage() {
				return false, "you cannot message " + other
			}
		}
		return true, ""
	}
}
