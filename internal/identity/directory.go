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

// Package identity resolves a focus user into every id the sources may use
// for them. Configured users and aliases (employee codes, Atlassian account
// ids) are merged with an optional Microsoft Graph directory lookup.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/models"
)

// focusUserPattern accepts usernames, employee codes and email addresses.
var focusUserPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+\-]{0,127}$`)

// Validate checks focus user syntax. The empty string is not malformed; it
// is the unknown identity and resolves to no data.
func Validate(focusUser string) error {
	if focusUser == "" {
		return nil
	}
	if !focusUserPattern.MatchString(focusUser) {
		return fmt.Errorf("%w: %q", models.ErrInvalidFocusUser, focusUser)
	}
	return nil
}

// User is a configured person with the aliases each source knows them by.
type User struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Mailbox     string   `yaml:"mailbox"`
	AccountID   string   `yaml:"account_id"`
	Aliases     []string `yaml:"aliases"`
	Roles       []string `yaml:"roles"`
}

// Identity is a resolved focus user.
type Identity struct {
	FocusUser   string
	DisplayName string
	Mailbox     string // Graph mailbox (mail or UPN)
	AccountID   string // Atlassian account id
	Aliases     []string
	Roles       []string

	ids aggregate.Aliases
}

// Matches reports whether ownerID belongs to this identity.
func (id Identity) Matches(ownerID string) bool {
	if id.ids == nil {
		return aggregate.NewAliases(id.IDs()...).Matches(ownerID)
	}
	return id.ids.Matches(ownerID)
}

// IDs returns every known id, focus user first, without duplicates.
func (id Identity) IDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append([]string{id.FocusUser, id.Mailbox, id.AccountID}, id.Aliases...) {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func (id Identity) seal() Identity {
	id.ids = aggregate.NewAliases(id.IDs()...)
	return id
}

// graphUser is the subset of the Graph /users/{id} response we need.
type graphUser struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	EmployeeID        string `json:"employeeId"`
}

// Directory resolves identities. Complete lookups are cached for cacheTTL;
// identities built without a Graph answer are cached for degradedTTL only.
type Directory struct {
	users         map[string]User // keyed by lower-cased id and alias
	httpClient    *http.Client
	graphBaseURL  string
	cacheTTL      time.Duration
	degradedTTL   time.Duration
	lookupTimeout time.Duration
	now           func() time.Time

	mu       sync.Mutex
	resolved map[string]cachedIdentity
}

type cachedIdentity struct {
	id      Identity
	expires time.Time
}

// NewDirectory creates a directory from configured users. httpClient may be
// nil, in which case no Graph lookup is made.
func NewDirectory(users []User, httpClient *http.Client, graphBaseURL string) *Directory {
	d := &Directory{
		users:         make(map[string]User),
		httpClient:    httpClient,
		graphBaseURL:  graphBaseURL,
		cacheTTL:      time.Hour,
		degradedTTL:   30 * time.Second,
		lookupTimeout: 3 * time.Second,
		now:           time.Now,
		resolved:      make(map[string]cachedIdentity),
	}
	for _, u := range users {
		for _, key := range append([]string{u.ID, u.Mailbox}, u.Aliases...) {
			if key = strings.ToLower(strings.TrimSpace(key)); key != "" {
				d.users[key] = u
			}
		}
	}
	return d
}

// Resolve builds the identity for focusUser.
//
// Hybrid strategy:
//   - Configured users contribute display name, mailbox, account id and aliases.
//   - If a Graph client is configured, the directory entry adds mail, UPN
//     and employee id. Lookup failures degrade to the configured data.
func (d *Directory) Resolve(ctx context.Context, focusUser string) (Identity, error) {
	if err := Validate(focusUser); err != nil {
		return Identity{}, err
	}
	key := strings.ToLower(focusUser)

	d.mu.Lock()
	if c, ok := d.resolved[key]; ok && d.now().Before(c.expires) {
		d.mu.Unlock()
		// Entries are shared across spellings; report the caller's.
		id := c.id
		id.FocusUser = focusUser
		return id, nil
	}
	d.mu.Unlock()

	id := Identity{FocusUser: focusUser, DisplayName: focusUser}
	if u, ok := d.users[key]; ok {
		id.DisplayName = firstNonEmpty(u.DisplayName, focusUser)
		id.Mailbox = u.Mailbox
		id.AccountID = u.AccountID
		id.Roles = append([]string(nil), u.Roles...)
		id.Aliases = append(id.Aliases, u.Aliases...)
		if !strings.EqualFold(u.ID, focusUser) {
			id.Aliases = append(id.Aliases, u.ID)
		}
	}

	ttl := d.cacheTTL
	if d.httpClient != nil && d.graphBaseURL != "" {
		lookup := firstNonEmpty(id.Mailbox, focusUser)
		t := timeout.New[*graphUser](timeout.Config{DefaultTimeout: d.lookupTimeout})
		gu, err := t.Execute(ctx, d.lookupTimeout, func(ctx context.Context) (*graphUser, error) {
			return d.lookupGraph(ctx, lookup)
		})
		if err != nil {
			slog.Warn("directory lookup failed, using configured aliases only",
				"focus_user", focusUser,
				"retry_after", d.degradedTTL,
				"error", err,
			)
			ttl = d.degradedTTL
		} else if gu != nil {
			if id.DisplayName == focusUser && gu.DisplayName != "" {
				id.DisplayName = gu.DisplayName
			}
			id.Mailbox = firstNonEmpty(id.Mailbox, gu.Mail, gu.UserPrincipalName)
			id.Aliases = append(id.Aliases, gu.ID, gu.Mail, gu.UserPrincipalName, gu.EmployeeID)
		}
	}

	id = id.seal()

	d.mu.Lock()
	d.resolved[key] = cachedIdentity{id: id, expires: d.now().Add(ttl)}
	d.mu.Unlock()

	return id, nil
}

// Forget drops cached identities so the next Resolve re-reads the directory.
func (d *Directory) Forget() {
	d.mu.Lock()
	d.resolved = make(map[string]cachedIdentity)
	d.mu.Unlock()
}

// lookupGraph fetches a directory entry. A 404 is not an error.
func (d *Directory) lookupGraph(ctx context.Context, user string) (*graphUser, error) {
	params := url.Values{}
	params.Set("$select", "id,mail,displayName,userPrincipalName,employeeId")
	u := fmt.Sprintf("%s/users/%s?%s", d.graphBaseURL, url.PathEscape(user), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph /users returned HTTP %d", resp.StatusCode)
	}

	var gu graphUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	return &gu, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
