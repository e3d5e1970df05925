// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

const uriScheme = "keyring://"

// IsURI reports whether value is a keyring://key reference.
func IsURI(value string) bool {
	return strings.HasPrefix(value, uriScheme)
}

// Resolve returns the secret a keyring://key value points at. Other values
// are returned unchanged.
func Resolve(s Store, value string) (string, error) {
	if !IsURI(value) {
		return value, nil
	}
	key := strings.TrimPrefix(value, uriScheme)
	if key == "" {
		return "", huddleerr.Errorf(huddleerr.CodeSecretInvalidInput, "invalid keyring reference %q", value)
	}
	return s.Get(key)
}

// ResolveViper replaces every keyring:// string in v with its secret. A
// reference that cannot be resolved is left in place and logged; Validate
// reports it later if the value matters.
func ResolveViper(v *viper.Viper, s Store) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsURI(val) {
			continue
		}
		resolved, err := Resolve(s, val)
		if err != nil {
			slog.Warn("keyring reference not resolved", "config_key", key, "error", err)
			continue
		}
		v.Set(key, resolved)
	}
}

// Key returns the keyring key a keyring://key value points at.
func Key(value string) (string, bool) {
	key, ok := strings.CutPrefix(value, uriScheme)
	return key, ok && key != ""
}
