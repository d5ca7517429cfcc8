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

// Package access resolves a caller's role into a typed permission set.
// The set is computed once per request and carried on the context, so
// handlers test a bit instead of comparing role strings.
package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Permission is a bit set of allowed operations.
type Permission uint32

const (
	PermDashboard Permission = 1 << iota
	PermReport
	PermWorkload
	PermUrgent
	PermEvents
	PermClearCache
	PermSourceHealth
)

var permNames = []struct {
	perm Permission
	name string
}{
	{PermDashboard, "dashboard"},
	{PermReport, "report"},
	{PermWorkload, "workload"},
	{PermUrgent, "urgent"},
	{PermEvents, "events"},
	{PermClearCache, "cache.clear"},
	{PermSourceHealth, "sources"},
}

// Has reports whether every bit of want is set.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// Names lists the permission names in declaration order.
func (p Permission) Names() []string {
	var out []string
	for _, pn := range permNames {
		if p.Has(pn.perm) {
			out = append(out, pn.name)
		}
	}
	return out
}

// Role is a named permission bundle.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// DefaultRole applies to callers with no configured role.
const DefaultRole = RoleMember

var rolePerms = map[Role]Permission{
	RoleViewer: PermDashboard | PermWorkload | PermUrgent | PermEvents,
	RoleMember: PermDashboard | PermWorkload | PermUrgent | PermEvents | PermReport | PermClearCache,
	RoleAdmin:  PermDashboard | PermWorkload | PermUrgent | PermEvents | PermReport | PermClearCache | PermSourceHealth,
}

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := rolePerms[r]; !ok {
		return "", fmt.Errorf("unknown role %q", name)
	}
	return r, nil
}

// Session is the resolved caller.
type Session struct {
	User        string     `json:"user"`
	Roles       []Role     `json:"roles"`
	Permissions Permission `json:"-"`
}

// Can reports whether the session holds perm.
func (s Session) Can(perm Permission) bool {
	return s.Permissions.Has(perm)
}

// Resolver maps callers to roles.
type Resolver struct {
	roles       map[string][]Role
	defaultRole Role
}

// NewResolver builds a resolver from a user → role names table. Unknown
// role names are rejected so a typo cannot silently grant the default role.
func NewResolver(userRoles map[string][]string, defaultRole string) (*Resolver, error) {
	def := DefaultRole
	if defaultRole != "" {
		r, err := ParseRole(defaultRole)
		if err != nil {
			return nil, fmt.Errorf("default role: %w", err)
		}
		def = r
	}

	res := &Resolver{roles: make(map[string][]Role, len(userRoles)), defaultRole: def}
	for user, names := range userRoles {
		key := strings.ToLower(strings.TrimSpace(user))
		for _, n := range names {
			r, err := ParseRole(n)
			if err != nil {
				return nil, fmt.Errorf("user %s: %w", user, err)
			}
			res.roles[key] = append(res.roles[key], r)
		}
	}
	return res, nil
}

// Resolve returns the session for user. Users without roles get the default.
func (r *Resolver) Resolve(user string) Session {
	roles := r.roles[strings.ToLower(strings.TrimSpace(user))]
	if len(roles) == 0 {
		roles = []Role{r.defaultRole}
	}
	roles = append([]Role(nil), roles...)
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	var perms Permission
	for _, role := range roles {
		perms |= rolePerms[role]
	}
	return Session{User: user, Roles: roles, Permissions: perms}
}

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session on ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
