// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// authMiddleware resolves the caller from a bearer token. Browsers cannot set
// headers on websocket upgrades, so the watch route also accepts
// ?access_token=. Requests without a token continue anonymously; a token
// that fails verification is rejected.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || s.svc.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.svc.tokens.Verify(token)
		if err != nil {
			s.logger.Debug("rejected bearer token", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if r.URL.Path == wire.PathWatch {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// authorize reports whether the caller may touch collection.
func (s *Server) authorize(ctx context.Context, collection string) error {
	if !s.svc.protected[collection] {
		return nil
	}
	if _, ok := identity.UserFrom(ctx); ok {
		return nil
	}
	return huddleerr.New(huddleerr.CodeAuthTokenUnauthorized, "sign in to access this collection",
		huddleerr.FieldCollection(collection),
	)
}

// httpError converts a coded error into a huma status error.
func httpError(err error) error {
	status := huddleerr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return huma.Error500InternalServerError("store failure", err)
	}
	return huma.NewError(status, err.Error())
}
