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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/events"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/history"
	"github.com/bcem/priority/internal/identity"
	"github.com/bcem/priority/internal/models"
	"github.com/bcem/priority/internal/normalize"
	"github.com/bcem/priority/internal/scoring"
	"github.com/bcem/priority/internal/sources"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAdapter returns canned records. When gate is set, Fetch blocks until
// the gate closes or the context ends.
type fakeAdapter struct {
	src   models.Source
	gate  chan struct{}
	calls atomic.Int32

	mu      sync.Mutex
	records []normalize.Record
	err     error
}

func (f *fakeAdapter) Source() models.Source { return f.src }

func (f *fakeAdapter) Fetch(ctx context.Context, _ identity.Identity) (sources.Batch, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return sources.Batch{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sources.Batch{}, f.err
	}
	return sources.Batch{Records: f.records}, nil
}

func (f *fakeAdapter) set(records []normalize.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

type fixture struct {
	clock      *fakeClock
	jira       *fakeAdapter
	outlook    *fakeAdapter
	confluence *fakeAdapter
	broker     *events.Broker
	tracker    *health.Tracker
	svc        *Service
}

var users = []identity.User{{
	ID:          "alice",
	DisplayName: "Alice Smith",
	Mailbox:     "alice@example.com",
	AccountID:   "acc-alice",
	Aliases:     []string{"E1001"},
}}

// scenarioRecords is the three-item example: an overdue High JIRA issue, an
// important email with no due date and a stale unlabelled Confluence page.
func scenarioRecords(now time.Time) (jira, outlook, confluence []normalize.Record) {
	yesterday := now.Add(-24 * time.Hour)
	jira = []normalize.Record{
		normalize.JiraIssue{Key: "OPS-1", Summary: "Fix prod outage", Priority: "High", DueDate: &yesterday, Updated: now.Add(-2 * time.Hour), Assignee: "acc-alice"},
		normalize.JiraIssue{Key: "OPS-9", Summary: "Bob's ticket", Priority: "Highest", DueDate: &yesterday, Updated: now, Assignee: "acc-bob"},
	}
	outlook = []normalize.Record{
		normalize.OutlookMessage{ID: "m1", Subject: "Important: contract", Importance: "high", LastModified: now.Add(-time.Hour), Mailbox: "alice@example.com"},
	}
	confluence = []normalize.Record{
		normalize.ConfluencePage{ID: "9001", Title: "Old notes", LastUpdated: now.Add(-30 * 24 * time.Hour), Author: "acc-alice"},
	}
	return jira, outlook, confluence
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	j, o, c := scenarioRecords(clock.Now())

	tracker, err := health.NewTracker(3)
	require.NoError(t, err)

	f := &fixture{
		clock:      clock,
		jira:       &fakeAdapter{src: models.SourceJira, records: j},
		outlook:    &fakeAdapter{src: models.SourceOutlook, records: o},
		confluence: &fakeAdapter{src: models.SourceConfluence, records: c},
		broker:     events.NewBroker(16),
		tracker:    tracker,
	}
	cfg := Config{
		Adapters:      []sources.Adapter{f.jira, f.outlook, f.confluence},
		Identities:    identity.NewDirectory(users, nil, ""),
		Scoring:       scoring.DefaultParams(),
		Capacity:      aggregate.DefaultCapacity(),
		SourceTimeout: time.Second,
		Events:        f.broker,
		Health:        f.tracker,
		Now:           clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = New(cfg)
	t.Cleanup(f.svc.Cache().Wait)
	return f
}

func ids(badges []models.PriorityBadge) []string {
	out := make([]string, len(badges))
	for i, b := range badges {
		out[i] = string(b.Source) + ":" + b.ID
	}
	return out
}

func TestDashboard_Scenario(t *testing.T) {
	f := newFixture(t)

	v, err := f.svc.Dashboard(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "Good afternoon, Alice Smith", v.Greeting)
	assert.Equal(t, []string{"JIRA:OPS-1", "OUTLOOK:m1", "CONFLUENCE:9001"}, ids(v.UrgencyBadges))
	assert.Equal(t, models.UrgencyCritical, v.UrgencyBadges[0].Urgency)
	assert.Equal(t, 85.0, v.UrgencyBadges[0].Score)
	assert.Equal(t, models.UrgencyMedium, v.UrgencyBadges[1].Urgency)
	assert.Equal(t, models.UrgencyLow, v.UrgencyBadges[2].Urgency)
	assert.Equal(t, models.CapacityIndicator{Level: models.CapacityLow, Percentage: 20}, v.CapacityIndicator)
	assert.False(t, v.Stale)
	for _, src := range models.AllSources {
		assert.True(t, v.Summary.SourceStatus[src].OK, "source %s", src)
	}
	assert.Equal(t, f.clock.Now(), v.Summary.LastUpdated)
}

func TestDashboard_ConcurrentMissesCoalesce(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.jira.gate, f.outlook.gate, f.confluence.gate = gate, gate, gate

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	views := make([]*View, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = f.svc.Dashboard(context.Background(), "alice")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Len(t, views[i].UrgencyBadges, 3)
	}
	assert.EqualValues(t, 1, f.jira.calls.Load())
	assert.EqualValues(t, 1, f.outlook.calls.Load())
	assert.EqualValues(t, 1, f.confluence.calls.Load())
}

func TestCacheClear_ReinvokesAdapters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.jira.calls.Load(), "fresh read must not touch sources")

	res, err := f.svc.CacheClear(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cleared)
	assert.Equal(t, 1, res.Dropped)

	_, err = f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.jira.calls.Load())
	assert.EqualValues(t, 2, f.outlook.calls.Load())
	assert.EqualValues(t, 2, f.confluence.calls.Load())
}

func TestDashboard_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.jira.set(nil, errors.New("502 bad gateway"))

	v, err := f.svc.Dashboard(context.Background(), "alice")
	require.NoError(t, err)

	st := v.Summary.SourceStatus[models.SourceJira]
	assert.False(t, st.OK)
	assert.Contains(t, st.Error, "502 bad gateway")
	assert.Equal(t, []string{"OUTLOOK:m1", "CONFLUENCE:9001"}, ids(v.UrgencyBadges))
	assert.Equal(t, health.StateDegraded, f.tracker.State(models.SourceJira))
}

func TestDashboard_SourceTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SourceTimeout = 30 * time.Millisecond })
	f.outlook.gate = make(chan struct{})

	start := time.Now()
	v, err := f.svc.Dashboard(context.Background(), "alice")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, v.Summary.SourceStatus[models.SourceOutlook].OK)
	assert.Equal(t, []string{"JIRA:OPS-1", "CONFLUENCE:9001"}, ids(v.UrgencyBadges))
}

func TestDashboard_AllSourcesFailedWithoutCache(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("down")
	f.jira.set(nil, boom)
	f.outlook.set(nil, boom)
	f.confluence.set(nil, boom)

	_, err := f.svc.Dashboard(context.Background(), "alice")
	assert.ErrorIs(t, err, models.ErrNoDataAvailable)
	assert.Equal(t, 0, f.svc.Cache().Len())
}

func TestDashboard_AllSourcesFailedKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)

	boom := errors.New("down")
	f.jira.set(nil, boom)
	f.outlook.set(nil, boom)
	f.confluence.set(nil, boom)
	f.clock.Advance(2 * time.Minute)

	v, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, v.Stale)
	f.svc.Cache().Wait()

	_, err = f.svc.Refresh(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)

	w, err := f.svc.Workload(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CapacityLow, w.CapacityIndicator.Level)

	u, err := f.svc.Urgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"JIRA:OPS-1"}, ids(u.UrgencyBadges))
}

func TestDashboard_StaleTriggersBackgroundRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	f.outlook.set(nil, nil)
	v, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, v.Stale)
	assert.Len(t, v.UrgencyBadges, 3, "stale snapshot is served immediately")

	f.svc.Cache().Wait()
	assert.EqualValues(t, 2, f.jira.calls.Load())

	v, err = f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, v.Stale)
	assert.Len(t, v.UrgencyBadges, 2)
}

func TestReadsTolerateStaleness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.svc.Workload(ctx, "alice")
	require.NoError(t, err)
	r, err := f.svc.Report(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, r.Stale)

	f.svc.Cache().Wait()
	assert.EqualValues(t, 1, f.jira.calls.Load(), "report and workload must not refresh")
}

func TestFocusUserErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "")
	assert.ErrorIs(t, err, models.ErrNoDataAvailable)

	_, err = f.svc.Urgent(ctx, "bad user!")
	assert.ErrorIs(t, err, models.ErrInvalidFocusUser)

	_, err = f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, models.ErrNoDataAvailable)

	assert.EqualValues(t, 0, f.jira.calls.Load())
}

func TestWorkload_NoUrgentItems(t *testing.T) {
	f := newFixture(t)
	f.jira.set(nil, nil)
	f.outlook.set(nil, nil)

	w, err := f.svc.Workload(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CapacityLow, w.CapacityIndicator.Level)
	assert.Equal(t, 0.0, w.CapacityIndicator.Percentage)
}

func TestUrgent_FiltersHighAndCritical(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.Urgent(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"JIRA:OPS-1"}, ids(u.UrgencyBadges))

	f.jira.set(nil, nil)
	_, err = f.svc.CacheClear(context.Background())
	require.NoError(t, err)
	u, err = f.svc.Urgent(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, u.UrgencyBadges)
	assert.Empty(t, u.UrgencyBadges)
}

func TestAliasesMatchOwners(t *testing.T) {
	f := newFixture(t)
	f.jira.set([]normalize.Record{
		normalize.JiraIssue{Key: "HR-1", Summary: "Review", Priority: "Low", Updated: f.clock.Now(), Assignee: "e1001"},
	}, nil)

	v, err := f.svc.Dashboard(context.Background(), "E1001")
	require.NoError(t, err)
	assert.Contains(t, ids(v.UrgencyBadges), "JIRA:HR-1")
	assert.Contains(t, ids(v.UrgencyBadges), "OUTLOOK:m1")
}

func TestUpdateScoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)

	changed, err := f.svc.UpdateScoring(ctx, scoring.DefaultParams(), aggregate.DefaultCapacity())
	require.NoError(t, err)
	assert.False(t, changed, "an identical model must not clear the cache")
	assert.Equal(t, 1, f.svc.Cache().Len())

	params := scoring.DefaultParams()
	params.Tiers.Critical = 90
	changed, err = f.svc.UpdateScoring(ctx, params, aggregate.DefaultCapacity())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 90.0, f.svc.Scoring().Tiers.Critical)
	assert.Equal(t, 0, f.svc.Cache().Len())

	v, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.jira.calls.Load())
	assert.Equal(t, models.UrgencyHigh, v.UrgencyBadges[0].Urgency)
}

func TestUpdateScoring_RejectsUnorderedTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)

	params := scoring.DefaultParams()
	params.Tiers = scoring.Thresholds{Critical: 40, High: 45, Medium: 30}
	changed, err := f.svc.UpdateScoring(ctx, params, aggregate.DefaultCapacity())
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, scoring.DefaultParams().Tiers, f.svc.Scoring().Tiers)
	assert.Equal(t, 1, f.svc.Cache().Len())
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.broker.Subscribe(events.ForUser("alice"))
	defer cancel()
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.CacheClear(ctx)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, events.SnapshotRefreshed, first.Type)
	assert.Equal(t, "alice", first.FocusUser)
	require.NotNil(t, first.Capacity)
	second := <-ch
	assert.Equal(t, events.CacheCleared, second.Type)
}

func TestEventsUseRequestedSpelling(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.broker.Subscribe(events.ForUser("alice"))
	defer cancel()
	ctx := context.Background()

	// The directory caches the first spelling it sees.
	_, err := f.svc.Dashboard(ctx, "Alice")
	require.NoError(t, err)
	_, err = f.svc.Dashboard(ctx, "alice")
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, events.SnapshotRefreshed, e.Type)
		assert.Equal(t, "alice", e.FocusUser)
	case <-time.After(time.Second):
		t.Fatal("subscriber on alice received no refresh event")
	}
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []*models.AggregationSnapshot
	prev     *history.Entry
}

func (h *fakeHistory) Record(_ context.Context, snap *models.AggregationSnapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, snap)
	return nil
}

func (h *fakeHistory) Previous(context.Context, string, time.Time) (*history.Entry, error) {
	return h.prev, nil
}

type fakeAlerts struct{ calls atomic.Int32 }

func (a *fakeAlerts) Notify(context.Context, *models.AggregationSnapshot) (int, error) {
	a.calls.Add(1)
	return 0, nil
}

func TestReport(t *testing.T) {
	hist := &fakeHistory{}
	alerts := &fakeAlerts{}
	f := newFixture(t, func(c *Config) {
		c.History = hist
		c.Alerts = alerts
	})
	f.confluence.set(nil, errors.New("401 unauthorized"))
	hist.prev = &history.Entry{
		RecordedAt: f.clock.Now().Add(-time.Hour),
		SourceStatus: map[models.Source]models.SourceStatus{
			models.SourceJira:       {OK: true},
			models.SourceOutlook:    {OK: true},
			models.SourceConfluence: {OK: true},
		},
		Badges: []models.PriorityBadge{
			{ID: "OPS-1", Source: models.SourceJira, Urgency: models.UrgencyHigh},
			{ID: "OPS-7", Source: models.SourceJira, Urgency: models.UrgencyMedium},
		},
	}

	r, err := f.svc.Report(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "CONFLUENCE unavailable, showing JIRA and OUTLOOK only", r.Disclosure)
	assert.Equal(t, 1, r.Counts["CRITICAL"])
	assert.Equal(t, 1, r.Counts["MEDIUM"])
	assert.Equal(t, 0, r.Counts["HIGH"])
	assert.Equal(t, 1, r.SourceCounts[models.SourceJira]["CRITICAL"])
	assert.NotContains(t, r.SourceCounts, models.SourceConfluence)
	assert.Equal(t, health.StateDegraded, r.SourceHealth[models.SourceConfluence].State)

	require.NotNil(t, r.Changes)
	assert.Len(t, r.Changes.Escalated, 1)
	assert.Len(t, r.Changes.Resolved, 1)
	assert.Len(t, r.Changes.Added, 1)

	assert.Contains(t, r.Narrative, "Good afternoon, Alice Smith.")
	assert.Contains(t, r.Narrative, "1 urgent item (1 critical, 0 high) out of 2 open")
	assert.Contains(t, r.Narrative, "Top priority: [JIRA] Fix prod outage (CRITICAL, overdue since Mar 1)")
	assert.Contains(t, r.Narrative, "CONFLUENCE unavailable, showing JIRA and OUTLOOK only.")
	assert.Contains(t, r.Narrative, "1 new, 1 resolved, 1 escalated")

	assert.Len(t, hist.recorded, 1)
	assert.EqualValues(t, 1, alerts.calls.Load())
}

func TestDisclosure(t *testing.T) {
	status := func(ok ...bool) *models.AggregationSnapshot {
		s := &models.AggregationSnapshot{Summary: models.Summary{SourceStatus: map[models.Source]models.SourceStatus{}}}
		for i, src := range models.AllSources {
			s.Summary.SourceStatus[src] = models.SourceStatus{OK: ok[i]}
		}
		return s
	}
	assert.Equal(t, "", Disclosure(status(true, true, true)))
	assert.Equal(t, "JIRA unavailable, showing OUTLOOK and CONFLUENCE only", Disclosure(status(false, true, true)))
	assert.Equal(t, "JIRA and OUTLOOK unavailable, showing CONFLUENCE only", Disclosure(status(false, false, true)))
	assert.Equal(t, "JIRA, OUTLOOK and CONFLUENCE unavailable", Disclosure(status(false, false, false)))
}

func TestGreeter(t *testing.T) {
	g := TimeOfDayGreeter{}
	id := identity.Identity{FocusUser: "alice"}
	at := func(h int) time.Time { return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC) }

	assert.Equal(t, "Good morning, alice", g.Greeting(id, at(8)))
	assert.Equal(t, "Good afternoon, alice", g.Greeting(id, at(13)))
	assert.Equal(t, "Good evening, alice", g.Greeting(id, at(20)))
}

func TestWarmer_WarmOnce(t *testing.T) {
	f := newFixture(t)
	w := NewWarmer(WarmerConfig{Service: f.svc, Users: []string{"alice", "bad user!"}, Interval: time.Hour})

	assert.Equal(t, 1, w.WarmOnce(context.Background()))
	assert.Equal(t, 1, f.svc.Cache().Len())

	w.Start(context.Background())
	w.Stop()
}
