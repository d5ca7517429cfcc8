// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is a typed HTTP client for the priority API, used by the
// command-line tool and the assistant bridge.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bcem/priority/internal/dashboard"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/models"
)

// ErrForbidden is returned when the caller lacks a permission.
var ErrForbidden = errors.New("forbidden")

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("priority api returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("priority api returned HTTP %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps API error codes back onto the model sentinels so callers can
// use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "NO_DATA_AVAILABLE":
		return models.ErrNoDataAvailable
	case "INVALID_FOCUS_USER":
		return models.ErrInvalidFocusUser
	case "FORBIDDEN":
		return ErrForbidden
	}
	return nil
}

// Session describes the caller as the server sees it.
type Session struct {
	User        string   `json:"user"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Health is the /health body.
type Health struct {
	Status       string            `json:"status"`
	Sources      string            `json:"sources,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Client calls the priority API on behalf of one caller.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// New creates a client. user is sent as the caller identity and may be
// empty. httpClient may be nil.
func New(baseURL, user string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		httpClient: httpClient,
	}
}

// Dashboard fetches the dashboard view for focusUser.
func (c *Client) Dashboard(ctx context.Context, focusUser string) (*dashboard.View, error) {
	var v dashboard.View
	return &v, c.do(ctx, http.MethodGet, "/api/priority/dashboard", focusUser, &v)
}

// Report fetches the narrative status update.
func (c *Client) Report(ctx context.Context, focusUser string) (*dashboard.Report, error) {
	var v dashboard.Report
	return &v, c.do(ctx, http.MethodGet, "/api/priority/report", focusUser, &v)
}

// Workload fetches the capacity indicator.
func (c *Client) Workload(ctx context.Context, focusUser string) (*dashboard.Workload, error) {
	var v dashboard.Workload
	return &v, c.do(ctx, http.MethodGet, "/api/priority/workload", focusUser, &v)
}

// Urgent fetches HIGH and CRITICAL badges.
func (c *Client) Urgent(ctx context.Context, focusUser string) (*dashboard.UrgentList, error) {
	var v dashboard.UrgentList
	return &v, c.do(ctx, http.MethodGet, "/api/priority/urgent", focusUser, &v)
}

// CacheClear drops every cached snapshot on the server.
func (c *Client) CacheClear(ctx context.Context) (*dashboard.ClearResult, error) {
	var v dashboard.ClearResult
	return &v, c.do(ctx, http.MethodPost, "/api/priority/cache/clear", "", &v)
}

// Sources fetches per-source health. Requires the admin role.
func (c *Client) Sources(ctx context.Context) (map[models.Source]health.SourceHealth, error) {
	v := map[models.Source]health.SourceHealth{}
	return v, c.do(ctx, http.MethodGet, "/api/priority/sources", "", &v)
}

// Session fetches the caller's resolved roles and permissions.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var v Session
	return &v, c.do(ctx, http.MethodGet, "/api/priority/session", "", &v)
}

// Health fetches /health. A 503 body is still decoded and returned along
// with the error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var v Health
	return &v, c.do(ctx, http.MethodGet, "/health", "", &v)
}

func (c *Client) do(ctx context.Context, method, path, focusUser string, out interface{}) error {
	u := c.baseURL + path
	if focusUser != "" {
		u += "?" + url.Values{"focusUser": {focusUser}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.Header.Set("X-Priority-User", c.user)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &Error{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &eb) == nil && eb.Code != "" {
			apiErr.Code, apiErr.Message = eb.Code, eb.Error
		} else {
			// /health reports failures in its normal body.
			_ = json.Unmarshal(body, out)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
