// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// defaultHTTPClient is used by gateway commands. Tests point them at
// httptest servers through --server.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// gatewayClient provides plain HTTP access to a running gateway.
type gatewayClient struct {
	baseURL string
	http    *http.Client
}

func newGatewayClient(addr string) *gatewayClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &gatewayClient{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *gatewayClient) getJSON(path string, dest any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		if isDialError(err) {
			return huddleerr.New(huddleerr.CodeCLIGatewayNotRunning, "gateway is not running (connection refused)")
		}
		return huddleerr.Wrap(err, huddleerr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return huddleerr.Errorf(huddleerr.CodeCLIRequestFailure, "gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return huddleerr.Wrap(err, huddleerr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
