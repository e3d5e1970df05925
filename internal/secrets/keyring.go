// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Keyring implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type Keyring struct {
	service string
}

// NewKeyring returns a Keyring scoped to service. Empty means Service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = Service
	}
	return &Keyring{service: service}
}

func (k *Keyring) Set(key, value string) error {
	if key == "" {
		return huddleerr.New(huddleerr.CodeSecretInvalidInput, "secret key must not be empty")
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return huddleerr.Wrapf(err, huddleerr.CodeSecretStoreFailure, "storing secret %s/%s", k.service, key)
	}
	return nil
}

func (k *Keyring) Get(key string) (string, error) {
	if key == "" {
		return "", huddleerr.New(huddleerr.CodeSecretInvalidInput, "secret key must not be empty")
	}
	val, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", huddleerr.Errorf(huddleerr.CodeSecretNotFound, "secret %s/%s not found", k.service, key)
	}
	if err != nil {
		return "", huddleerr.Wrapf(err, huddleerr.CodeSecretStoreFailure, "reading secret %s/%s", k.service, key)
	}
	return val, nil
}

func (k *Keyring) Delete(key string) error {
	if key == "" {
		return huddleerr.New(huddleerr.CodeSecretInvalidInput, "secret key must not be empty")
	}
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return huddleerr.Errorf(huddleerr.CodeSecretNotFound, "secret %s/%s not found", k.service, key)
	}
	if err != nil {
		return huddleerr.Wrapf(err, huddleerr.CodeSecretDeleteFailure, "deleting secret %s/%s", k.service, key)
	}
	return nil
}
