// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package model defines the typed records stored in each collection and the
// decode boundary between raw documents and those records.
package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"
)

// Collection names.
const (
	CollectionMessages      = "messages"
	CollectionRooms         = "rooms"
	CollectionConversations = "conversations"
	CollectionUsers         = "users"
	CollectionVotes         = "votes"
	CollectionBlockedUsers  = "blocked_users"
)

// DefaultProtectedCollections are the collections that require an
// authenticated identity to read.
var DefaultProtectedCollections = []string{
	CollectionBlockedUsers,
	CollectionUsers,
	CollectionConversations,
	CollectionRooms,
}

// Message kinds.
const (
	MessageText   = "text"
	MessageSystem = "system"
)

// Message is a chat message in a room or conversation. CreatedAt is unix
// milliseconds.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Kind      string `json:"kind,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Room is a group chat.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedAt int64    `json:"createdAt"`
}

// Conversation is a direct-message thread between participants.
type Conversation struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants"`
	LastMessageAt int64    `json:"lastMessageAt"`
}

// User is a profile directory entry.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
}

// Vote is a poll posted in a room.
type Vote struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"roomId"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	CreatedAt int64    `json:"createdAt"`
}

// Block is a directed relationship edge: BlockerID blocks BlockedID.
// Participants holds both IDs so one array-contains query finds every edge
// touching a user in either direction.
type Block struct {
	ID           string   `json:"id"`
	BlockerID    string   `json:"blockerId"`
	BlockedID    string   `json:"blockedId"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
}

// Counterparty returns the other side of the edge from user's point of view,
// or "" if user is not a participant.
func (b Block) Counterparty(user string) string {
	switch user {
	case b.BlockerID:
		return b.BlockedID
	case b.BlockedID:
		return b.BlockerID
	}
	return ""
}

// NewMessage builds a text message stamped at now. The ULID ID sorts in
// creation order. Text is stored in NFC so equal strings compare equal
// whichever client composed them.
func NewMessage(chatID, senderID, text string, now time.Time) Message {
	return Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      norm.NFC.String(text),
		Kind:      MessageText,
		CreatedAt: now.UnixMilli(),
	}
}

// NewBlock builds the edge for blocker blocking blocked.
func NewBlock(blocker, blocked string, now time.Time) Block {
	return Block{
		ID:           BlockID(blocker, blocked),
		BlockerID:    blocker,
		BlockedID:    blocked,
		Participants: []string{blocker, blocked},
		CreatedAt:    now.UnixMilli(),
	}
}

// blockNamespace scopes BlockID's name-based UUIDs.
var blockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("huddle:blocked_users"))

// BlockID is the deterministic document ID of a directed edge, so blocking
// twice conflicts instead of duplicating. The blocker is length-prefixed so
// no two distinct pairs share a name.
func BlockID(blocker, blocked string) string {
	name := strconv.Itoa(len(blocker)) + ":" + blocker + blocked
	return uuid.NewSHA1(blockNamespace, []byte(name)).String()
}
