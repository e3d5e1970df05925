// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps credentials out of config files: bearer tokens live
// in the OS keyring, and config values may point into it.
package secrets

// Service is the keyring service name for every huddle entry.
const Service = "huddle"

// Store holds named secrets.
type Store interface {
	// Set saves value under key, replacing any previous value.
	Set(key, value string) error
	// Get returns the value for key, or a secret.get.not_found error.
	Get(key string) (string, error)
	// Delete removes key. Deleting a missing key is a secret.get.not_found
	// error.
	Delete(key string) error
}

// TokenKey is the key under which the bearer token for a gateway address is
// stored, so one machine can hold sessions for several gateways.
func TokenKey(server string) string {
	return "token/" + server
}
