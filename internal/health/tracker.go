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

// Package health tracks the availability of each upstream source across
// refresh cycles. Every source has a small state machine: the first failure
// degrades it, a run of consecutive failures takes it down, and any success
// makes it healthy again.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/bcem/priority/internal/models"
	"github.com/felixgeelhaar/statekit"
)

// State constants double as statekit state ids.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDown     = "down"
)

const (
	eventSuccess = "success"
	eventFailure = "failure"
)

// DefaultDownAfter is the consecutive failure count that marks a source down.
const DefaultDownAfter = 3

// machineContext is read by the outage guard.
type machineContext struct {
	Streak    func() int
	DownAfter int
}

// SourceHealth is a point-in-time view of one source.
type SourceHealth struct {
	State     string    `json:"state"`
	Failures  int       `json:"consecutiveFailures"`
	LastError string    `json:"lastError,omitempty"`
	Since     time.Time `json:"since"`
}

type sourceState struct {
	interp    *statekit.Interpreter[machineContext]
	streak    int
	lastError string
	since     time.Time
}

// Tracker holds one state machine per source.
type Tracker struct {
	mu      sync.Mutex
	sources map[models.Source]*sourceState
	now     func() time.Time
}

// NewTracker creates a tracker for every known source.
func NewTracker(downAfter int) (*Tracker, error) {
	if downAfter < 2 {
		downAfter = DefaultDownAfter
	}
	t := &Tracker{
		sources: make(map[models.Source]*sourceState, len(models.AllSources)),
		now:     time.Now,
	}
	for _, src := range models.AllSources {
		st := &sourceState{since: t.now()}
		interp, err := newMachine(st, downAfter)
		if err != nil {
			return nil, fmt.Errorf("build %s health machine: %w", src, err)
		}
		st.interp = interp
		t.sources[src] = st
	}
	return t, nil
}

func newMachine(st *sourceState, downAfter int) (*statekit.Interpreter[machineContext], error) {
	builder := statekit.NewMachine[machineContext]("source-health").
		WithInitial(statekit.StateID(StateHealthy)).
		WithContext(machineContext{
			Streak:    func() int { return st.streak },
			DownAfter: downAfter,
		}).
		WithGuard("outage", func(ctx machineContext, e statekit.Event) bool {
			return ctx.Streak() >= ctx.DownAfter
		})

	builder.State(StateHealthy).
		On(eventFailure).Target(StateDegraded).
		Done()

	builder.State(StateDegraded).
		On(eventFailure).Target(StateDown).Guard("outage").
		On(eventSuccess).Target(StateHealthy).
		Done()

	builder.State(StateDown).
		On(eventSuccess).Target(StateHealthy).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, err
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return interp, nil
}

// Observe records the outcome of one fetch. err == nil is a success.
func (t *Tracker) Observe(source models.Source, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sources[source]
	if !ok {
		return
	}

	before := st.interp.State().Value
	if err != nil {
		st.streak++
		st.lastError = err.Error()
		st.interp.Send(statekit.Event{Type: statekit.EventType(eventFailure)})
	} else {
		st.streak = 0
		st.lastError = ""
		st.interp.Send(statekit.Event{Type: statekit.EventType(eventSuccess)})
	}
	if st.interp.State().Value != before {
		st.since = t.now()
	}
}

// State returns the current state name of source.
func (t *Tracker) State(source models.Source) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.sources[source]; ok {
		return string(st.interp.State().Value)
	}
	return ""
}

// Snapshot returns the health of every source.
func (t *Tracker) Snapshot() map[models.Source]SourceHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.Source]SourceHealth, len(t.sources))
	for src, st := range t.sources {
		out[src] = SourceHealth{
			State:     string(st.interp.State().Value),
			Failures:  st.streak,
			LastError: st.lastError,
			Since:     st.since,
		}
	}
	return out
}

// Overall summarises all sources: healthy when every source is healthy,
// down when every source is down, degraded otherwise.
func (t *Tracker) Overall() string {
	snap := t.Snapshot()
	healthy, down := 0, 0
	for _, h := range snap {
		switch h.State {
		case StateHealthy:
			healthy++
		case StateDown:
			down++
		}
	}
	switch {
	case healthy == len(snap):
		return StateHealthy
	case down == len(snap):
		return StateDown
	default:
		return StateDegraded
	}
}
