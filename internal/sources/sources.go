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

// Package sources defines the contract between the aggregation core and the
// per-system adapters for JIRA, Outlook and Confluence.
package sources

import (
	"context"
	"time"

	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
)

// Batch is one adapter response.
type Batch struct {
	Records   []normalize.Record
	FetchedAt time.Time
}

// Adapter fetches native records for a focus user from one system. Retry
// policy, if any, belongs to the adapter; the caller bounds each call with
// its own timeout.
type Adapter interface {
	Source() models.Source
	Fetch(ctx context.Context, id identity.Identity) (Batch, error)
}
