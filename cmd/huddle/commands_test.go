// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/huddle/internal/config"
	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/secrets"
	"github.com/sigil-dev/huddle/internal/server"
	"github.com/sigil-dev/huddle/internal/store/memory"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

const testSecret = "test-secret"

// sandbox isolates HOME and the keyring and writes a config pointing the
// client at server.
func sandbox(t *testing.T, server, secret string) string {
	t.Helper()
	keyring.MockInit()
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "huddle.yaml")
	body := fmt.Sprintf("storage:\n  backend: memory\nauth:\n  secret: %q\nclient:\n  server: %q\n", secret, server)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// testGateway serves a memory-backed gateway that trusts tokens signed with
// testSecret.
func testGateway(t *testing.T) (string, *memory.Store) {
	t.Helper()
	tokens, err := identity.NewTokens(testSecret)
	require.NoError(t, err)
	st := memory.New()
	svc, err := server.NewServices(st, server.WithBackendName("memory"), server.WithTokens(tokens))
	require.NoError(t, err)
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
		_ = st.Close()
	})
	return ts.URL, st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRootCommand_Help(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "login", "logout", "watch", "tail", "block", "unblock", "secret", "status", "doctor", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "huddle")
	assert.Contains(t, out, "commit:")
}

func TestLoginLogout(t *testing.T) {
	cfg := sandbox(t, "127.0.0.1:18790", testSecret)

	out, err := run(t, "-c", cfg, "login", "--user", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Signed in to 127.0.0.1:18790 as alice\n", out)

	token, err := secrets.NewKeyring(secrets.Service).Get(secrets.TokenKey("127.0.0.1:18790"))
	require.NoError(t, err)
	tokens, err := identity.NewTokens(testSecret)
	require.NoError(t, err)
	user, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	out, err = run(t, "-c", cfg, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out of 127.0.0.1:18790\n", out)

	out, err = run(t, "-c", cfg, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in to 127.0.0.1:18790\n", out)
}

func TestLogin_ServerFlagScopesToken(t *testing.T) {
	cfg := sandbox(t, "127.0.0.1:18790", testSecret)

	_, err := run(t, "-c", cfg, "--server", "chat.example:9000", "login", "--user", "bob")
	require.NoError(t, err)

	kr := secrets.NewKeyring(secrets.Service)
	_, err = kr.Get(secrets.TokenKey("chat.example:9000"))
	require.NoError(t, err)
	_, err = kr.Get(secrets.TokenKey("127.0.0.1:18790"))
	assert.True(t, huddleerr.IsNotFound(err))
}

func TestLogin_NeedsSigningSecret(t *testing.T) {
	cfg := sandbox(t, "127.0.0.1:18790", "keyring://jwt-secret")

	_, err := run(t, "-c", cfg, "login", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestEnsureSigningSecret(t *testing.T) {
	path := sandbox(t, "127.0.0.1:18790", "keyring://jwt-secret")
	kr := secrets.NewKeyring(secrets.Service)

	cfg, err := config.Load(path, kr)
	require.NoError(t, err)
	e := &env{cfg: cfg, secrets: kr, session: &identity.Session{}, logger: discardLogger()}

	secret, err := ensureSigningSecret(e)
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	stored, err := kr.Get("jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, secret, stored)

	// The next load resolves the stored secret instead of generating.
	cfg, err = config.Load(path, kr)
	require.NoError(t, err)
	again, err := ensureSigningSecret(&env{cfg: cfg, secrets: kr, session: &identity.Session{}, logger: discardLogger()})
	require.NoError(t, err)
	assert.Equal(t, secret, again)
}

func TestEnsureSigningSecret_PlainSecretMissing(t *testing.T) {
	path := sandbox(t, "127.0.0.1:18790", "")
	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	_, err = ensureSigningSecret(&env{cfg: cfg, secrets: secrets.NewKeyring(secrets.Service), session: &identity.Session{}, logger: discardLogger()})
	assert.True(t, huddleerr.IsInvalidInput(err))
}

func TestDiscoverConfig_Bootstraps(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := discoverConfig()
	assert.Equal(t, filepath.Join(home, ".config", "huddle", "huddle.yaml"), path)
	assert.FileExists(t, path)

	// Found, not rewritten.
	assert.Equal(t, path, discoverConfig())
}

func TestStatus_GatewayRunning(t *testing.T) {
	url, _ := testGateway(t)
	cfg := sandbox(t, url, testSecret)

	out, err := run(t, "-c", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Gateway at "+url+": ok (backend memory, 0 open watches)")
	assert.Contains(t, out, "Not signed in")

	_, err = run(t, "-c", cfg, "login", "--user", "alice")
	require.NoError(t, err)
	out, err = run(t, "-c", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as alice")
}

func TestStatus_GatewayNotRunning(t *testing.T) {
	cfg := sandbox(t, "127.0.0.1:1", testSecret)

	out, err := run(t, "-c", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "is not running")
}

func TestParseWhere(t *testing.T) {
	tests := []struct {
		in    string
		field string
		op    query.Operator
		value any
		err   bool
	}{
		{in: "chatId == general", field: "chatId", op: query.OpEqual, value: "general"},
		{in: "votes >= 3", field: "votes", op: query.OpGreaterEqual, value: float64(3)},
		{in: `tags array-contains "go"`, field: "tags", op: query.OpArrayContains, value: "go"},
		{in: `kind in ["text","system"]`, field: "kind", op: query.OpIn, value: []any{"text", "system"}},
		{in: "title == hello world", field: "title", op: query.OpEqual, value: "hello world"},
		{in: "pinned == true", field: "pinned", op: query.OpEqual, value: true},
		{in: "chatId ==", err: true},
		{in: "chatId ~= x", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			field, op, value, err := parseWhere(tt.in)
			if tt.err {
				require.Error(t, err)
				assert.True(t, huddleerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.field, field)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestWatch_InvalidQuery(t *testing.T) {
	cfg := sandbox(t, "127.0.0.1:1", testSecret)

	_, err := run(t, "-c", cfg, "watch", "messages", "--where", "chatId in general")
	require.Error(t, err)
	assert.True(t, huddleerr.IsInvalidInput(err))
}

func TestWatch_Once(t *testing.T) {
	url, st := testGateway(t)
	ctx := context.Background()
	for i, text := range []string{"one", "two", "three"} {
		_, err := st.Create(ctx, model.CollectionMessages, document.New(fmt.Sprintf("m%d", i+1), map[string]any{
			"chatId":    "general",
			"text":      text,
			"createdAt": i + 1,
		}))
		require.NoError(t, err)
	}
	_, err := st.Create(ctx, model.CollectionMessages, document.New("other", map[string]any{"chatId": "random", "createdAt": 9}))
	require.NoError(t, err)

	cfg := sandbox(t, url, testSecret)
	out, err := run(t, "-c", cfg, "watch", "messages",
		"--where", "chatId == general", "--order", "createdAt", "--desc", "--limit", "2", "--once")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var line snapshotLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Nil(t, line.Error)
	assert.Equal(t, []string{"m3", "m2"}, document.IDs(line.Documents))
	assert.NotEmpty(t, line.Key)
}

func TestWatch_OnceProtectedSignedOutIsEmpty(t *testing.T) {
	url, st := testGateway(t)
	_, err := st.Create(context.Background(), model.CollectionRooms, document.New("general", map[string]any{"name": "General"}))
	require.NoError(t, err)

	cfg := sandbox(t, url, testSecret)
	out, err := run(t, "-c", cfg, "watch", "rooms", "--once")
	require.NoError(t, err)

	var line snapshotLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Empty(t, line.Documents)
}

func TestBlockUnblock(t *testing.T) {
	url, st := testGateway(t)
	cfg := sandbox(t, url, testSecret)

	_, err := run(t, "-c", cfg, "block", "bob")
	require.Error(t, err, "signed out")
	assert.True(t, huddleerr.IsInvalidInput(err))

	_, err = run(t, "-c", cfg, "login", "--user", "alice")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "block", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Blocked bob\ncan message: false, can view profile: true\n", out)

	q, err := query.Build(query.From(model.CollectionBlockedUsers).Descriptor())
	require.NoError(t, err)
	docs, err := st.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{model.BlockID("alice", "bob")}, document.IDs(docs))

	// Idempotent.
	_, err = run(t, "-c", cfg, "block", "bob")
	require.NoError(t, err)

	out, err = run(t, "-c", cfg, "unblock", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Unblocked bob\ncan message: true, can view profile: true\n", out)
}
