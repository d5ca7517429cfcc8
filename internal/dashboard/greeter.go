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

package dashboard

import (
	"fmt"
	"time"

	"github.com/bcem/priority/internal/identity"
)

// Greeter produces the dashboard greeting line.
type Greeter interface {
	Greeting(id identity.Identity, now time.Time) string
}

// TimeOfDayGreeter greets by local time of day.
type TimeOfDayGreeter struct {
	Location *time.Location
}

// Greeting implements Greeter.
func (g TimeOfDayGreeter) Greeting(id identity.Identity, now time.Time) string {
	if g.Location != nil {
		now = now.In(g.Location)
	}
	name := id.DisplayName
	if name == "" {
		name = id.FocusUser
	}

	part := "evening"
	switch h := now.Hour(); {
	case h < 12:
		part = "morning"
	case h < 18:
		part = "afternoon"
	}
	return fmt.Sprintf("Good %s, %s", part, name)
}
