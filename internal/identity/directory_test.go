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

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcem/priority/internal/models"
)

// TestValidate checks focus user syntax rules.
func TestValidate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"alice", false},
		{"alice@example.com", false},
		{"E-1234", false},
		{"first.last+ops", false},
		{"alice smith", true},
		{"../etc/passwd", true},
		{"-leading", true},
		{strings.Repeat("a", 129), true},
		{"bob\n", true},
	}
	for _, tt := range tests {
		err := Validate(tt.in)
		if tt.wantErr {
			if !errors.Is(err, models.ErrInvalidFocusUser) {
				t.Errorf("Validate(%q) = %v, want ErrInvalidFocusUser", tt.in, err)
			}
		} else if err != nil {
			t.Errorf("Validate(%q) unexpected error: %v", tt.in, err)
		}
	}
}

// TestResolve_ConfiguredOnly verifies no Graph call is made without a client
// and that configured aliases resolve to the same identity.
func TestResolve_ConfiguredOnly(t *testing.T) {
	d := NewDirectory([]User{{
		ID:          "alice",
		DisplayName: "Alice Example",
		Mailbox:     "alice@example.com",
		AccountID:   "557058:abcd",
		Aliases:     []string{"E1234"},
		Roles:       []string{"admin"},
	}}, nil, "")

	id, err := d.Resolve(context.Background(), "E1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id.DisplayName != "Alice Example" {
		t.Errorf("DisplayName = %q", id.DisplayName)
	}
	for _, owner := range []string{"alice", "ALICE@example.com", "557058:abcd", "e1234"} {
		if !id.Matches(owner) {
			t.Errorf("expected %q to match", owner)
		}
	}
	if id.Matches("bob") {
		t.Error("bob should not match")
	}
	if len(id.Roles) != 1 || id.Roles[0] != "admin" {
		t.Errorf("Roles = %v", id.Roles)
	}
}

// TestResolve_GraphLookupAddsAliases verifies the directory entry extends the
// identity and the result is cached.
func TestResolve_GraphLookupAddsAliases(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/users/carol") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":                "0f1e2d3c",
			"mail":              "carol@example.com",
			"displayName":       "Carol Graph",
			"userPrincipalName": "carol@corp.example.com",
			"employeeId":        "E777",
		})
	}))
	defer server.Close()

	d := NewDirectory(nil, server.Client(), server.URL)
	ctx := context.Background()

	id, err := d.Resolve(ctx, "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.DisplayName != "Carol Graph" || id.Mailbox != "carol@example.com" {
		t.Errorf("unexpected identity: %+v", id)
	}
	for _, owner := range []string{"0f1e2d3c", "carol@corp.example.com", "E777"} {
		if !id.Matches(owner) {
			t.Errorf("expected %q to match", owner)
		}
	}

	if _, err := d.Resolve(ctx, "carol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("graph calls = %d, want 1 (cached)", calls.Load())
	}
}

// TestResolve_GraphFailureDegrades verifies directory errors do not fail
// resolution.
func TestResolve_GraphFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewDirectory([]User{{ID: "dave", Aliases: []string{"E42"}}}, server.Client(), server.URL)

	id, err := d.Resolve(context.Background(), "dave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Matches("E42") {
		t.Error("configured alias lost after Graph failure")
	}
}

// TestResolve_RecoversAfterGraphFailure re-queries Graph once the short
// degraded window has passed instead of keeping the partial identity.
func TestResolve_RecoversAfterGraphFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "obj-bob", "mail": "bob@example.com", "employeeId": "E7"})
	}))
	defer server.Close()

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	d := NewDirectory(nil, server.Client(), server.URL)
	d.now = func() time.Time { return clock }

	first, err := d.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if first.Matches("E7") {
		t.Fatal("E7 is only known to Graph")
	}

	clock = clock.Add(d.degradedTTL + time.Second)
	second, err := d.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("graph calls = %d, want 2", calls.Load())
	}
	if !second.Matches("E7") {
		t.Error("identity not refreshed after Graph recovered")
	}

	// A complete identity is cached for the full TTL.
	clock = clock.Add(d.degradedTTL + time.Second)
	if _, err := d.Resolve(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("graph calls = %d, want cached result", calls.Load())
	}
}

// TestResolve_LookupTimeout bounds a slow directory.
func TestResolve_LookupTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := NewDirectory([]User{{ID: "dave", Aliases: []string{"E42"}}}, server.Client(), server.URL)
	d.lookupTimeout = 50 * time.Millisecond

	start := time.Now()
	id, err := d.Resolve(context.Background(), "dave")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Resolve took %v", elapsed)
	}
	if !id.Matches("E42") {
		t.Error("configured alias lost after timeout")
	}
}

// TestResolve_KeepsCallerSpelling returns the requested focus user even
// when the cached entry was created under another case.
func TestResolve_KeepsCallerSpelling(t *testing.T) {
	d := NewDirectory(nil, nil, "")
	if _, err := d.Resolve(context.Background(), "Alice"); err != nil {
		t.Fatal(err)
	}
	id, err := d.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if id.FocusUser != "alice" {
		t.Errorf("FocusUser = %q, want alice", id.FocusUser)
	}
	if !id.Matches("ALICE") {
		t.Error("case-insensitive match lost")
	}
}

// TestResolve_Invalid rejects malformed identities.
func TestResolve_Invalid(t *testing.T) {
	d := NewDirectory(nil, nil, "")
	if _, err := d.Resolve(context.Background(), "not valid"); !errors.Is(err, models.ErrInvalidFocusUser) {
		t.Errorf("err = %v, want ErrInvalidFocusUser", err)
	}
}
