// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/huddle/internal/secrets"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func init() {
	keyring.MockInit()
}

func TestKeyring_SetGetDelete(t *testing.T) {
	k := secrets.NewKeyring("huddle-test-roundtrip")

	require.NoError(t, k.Set(secrets.TokenKey("127.0.0.1:18790"), "tok-1"))
	require.NoError(t, k.Set(secrets.TokenKey("127.0.0.1:18790"), "tok-2"))

	got, err := k.Get(secrets.TokenKey("127.0.0.1:18790"))
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)

	require.NoError(t, k.Delete(secrets.TokenKey("127.0.0.1:18790")))
	_, err = k.Get(secrets.TokenKey("127.0.0.1:18790"))
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeSecretNotFound))
}

func TestKeyring_NotFound(t *testing.T) {
	k := secrets.NewKeyring("huddle-test-missing")

	_, err := k.Get("nope")
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeSecretNotFound))
	assert.True(t, huddleerr.IsNotFound(err))

	err = k.Delete("nope")
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeSecretNotFound))
}

func TestKeyring_EmptyKey(t *testing.T) {
	k := secrets.NewKeyring("")
	assert.True(t, huddleerr.IsInvalidInput(k.Set("", "v")))
	_, err := k.Get("")
	assert.True(t, huddleerr.IsInvalidInput(err))
	assert.True(t, huddleerr.IsInvalidInput(k.Delete("")))
}

func TestKeyring_ServicesAreIsolated(t *testing.T) {
	a := secrets.NewKeyring("huddle-test-a")
	b := secrets.NewKeyring("huddle-test-b")
	require.NoError(t, a.Set("k", "from-a"))

	_, err := b.Get("k")
	assert.True(t, huddleerr.IsNotFound(err))
}

func TestResolve(t *testing.T) {
	k := secrets.NewKeyring("huddle-test-resolve")
	require.NoError(t, k.Set("jwt", "s3cret"))

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr huddleerr.Code
	}{
		{"plain value", "literal", "literal", ""},
		{"reference", "keyring://jwt", "s3cret", ""},
		{"missing", "keyring://absent", "", huddleerr.CodeSecretNotFound},
		{"empty key", "keyring://", "", huddleerr.CodeSecretInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := secrets.Resolve(k, tt.value)
			if tt.wantErr != "" {
				assert.True(t, huddleerr.HasCode(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveViper(t *testing.T) {
	k := secrets.NewKeyring("huddle-test-viper")
	require.NoError(t, k.Set("jwt", "s3cret"))

	v := viper.New()
	v.Set("auth.secret", "keyring://jwt")
	v.Set("auth.other", "keyring://absent")
	v.Set("networking.listen", "127.0.0.1:1")

	secrets.ResolveViper(v, k)
	assert.Equal(t, "s3cret", v.GetString("auth.secret"))
	assert.Equal(t, "keyring://absent", v.GetString("auth.other"), "unresolved references stay in place")
	assert.Equal(t, "127.0.0.1:1", v.GetString("networking.listen"))
}

func TestKey(t *testing.T) {
	key, ok := secrets.Key("keyring://jwt-secret")
	assert.True(t, ok)
	assert.Equal(t, "jwt-secret", key)

	_, ok = secrets.Key("keyring://")
	assert.False(t, ok)
	_, ok = secrets.Key("plain")
	assert.False(t, ok)
}
