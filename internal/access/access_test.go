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

package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DefaultRole(t *testing.T) {
	r, err := NewResolver(nil, "")
	require.NoError(t, err)

	s := r.Resolve("")
	assert.Equal(t, []Role{RoleMember}, s.Roles)
	assert.True(t, s.Can(PermDashboard|PermReport|PermClearCache))
	assert.False(t, s.Can(PermSourceHealth))
}

func TestResolver_ConfiguredRoles(t *testing.T) {
	r, err := NewResolver(map[string][]string{
		"Alice": {"admin"},
		"bob":   {"viewer"},
	}, "viewer")
	require.NoError(t, err)

	alice := r.Resolve("alice")
	assert.True(t, alice.Can(PermSourceHealth))

	bob := r.Resolve("BOB")
	assert.True(t, bob.Can(PermDashboard))
	assert.False(t, bob.Can(PermReport))
	assert.False(t, bob.Can(PermClearCache))

	carol := r.Resolve("carol")
	assert.Equal(t, []Role{RoleViewer}, carol.Roles)
}

func TestResolver_RejectsUnknownRole(t *testing.T) {
	_, err := NewResolver(map[string][]string{"alice": {"superuser"}}, "")
	assert.Error(t, err)

	_, err = NewResolver(nil, "root")
	assert.Error(t, err)
}

func TestPermission_Names(t *testing.T) {
	assert.Equal(t, []string{"dashboard", "urgent"}, (PermDashboard | PermUrgent).Names())
	assert.Nil(t, Permission(0).Names())
}

func TestSessionContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), Session{User: "alice", Permissions: PermUrgent})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", s.User)
}
