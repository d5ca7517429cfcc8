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

package models

import "errors"

var (
	// ErrSourceUnavailable marks a single adapter failure or timeout. It is
	// recorded in SourceStatus and never fails a request on its own.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrNoDataAvailable means every source failed and nothing is cached.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrInvalidFocusUser rejects a malformed focus user identity.
	ErrInvalidFocusUser = errors.New("invalid focus user")

	// ErrCacheCorruption marks a cached snapshot that failed its own invariants.
	ErrCacheCorruption = errors.New("cache corruption")
)
