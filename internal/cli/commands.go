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

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/priority/internal/client"
	"github.com/bcem/priority/internal/dashboard"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/models"
)

// run executes fn with a request-scoped context and prints its result,
// either as JSON or through text.
func run[T any](opts *options, fn func(ctx context.Context) (T, error), text func(io.Writer, T)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		if opts.asJSON {
			return printJSON(cmd.OutOrStdout(), v)
		}
		text(cmd.OutOrStdout(), v)
		return nil
	}
}

func printBadges(w io.Writer, badges []models.PriorityBadge) {
	if len(badges) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, b := range badges {
		due := ""
		if b.DueAt != nil {
			due = "  due " + b.DueAt.Local().Format("Jan 2 15:04")
		}
		fmt.Fprintf(w, "  %-8s %5.1f  %-10s %-14s %s%s\n", b.Urgency, b.Score, b.Source, b.ID, b.Title, due)
	}
}

func printSources(w io.Writer, status map[models.Source]models.SourceStatus) {
	for _, src := range models.AllSources {
		st, ok := status[src]
		switch {
		case !ok:
			continue
		case st.OK:
			fmt.Fprintf(w, "  %-10s ok\n", src)
		default:
			fmt.Fprintf(w, "  %-10s unavailable: %s\n", src, st.Error)
		}
	}
}

func newDashboardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the ranked dashboard",
		RunE: run(opts, func(ctx context.Context) (*dashboard.View, error) {
			return opts.client().Dashboard(ctx, opts.focusUser())
		}, func(w io.Writer, v *dashboard.View) {
			fmt.Fprintln(w, v.Greeting)
			fmt.Fprintf(w, "Capacity: %s (%.0f%%)\n", v.CapacityIndicator.Level, v.CapacityIndicator.Percentage)
			fmt.Fprintf(w, "Updated:  %s", v.Summary.LastUpdated.Local().Format(time.RFC1123))
			if v.Stale {
				fmt.Fprint(w, " (stale)")
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Sources:")
			printSources(w, v.Summary.SourceStatus)
			fmt.Fprintln(w, "Items:")
			printBadges(w, v.UrgencyBadges)
		}),
	}
}

func newReportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the narrative status update",
		RunE: run(opts, func(ctx context.Context) (*dashboard.Report, error) {
			return opts.client().Report(ctx, opts.focusUser())
		}, func(w io.Writer, r *dashboard.Report) {
			fmt.Fprintln(w, r.Narrative)
			tiers := make([]string, 0, len(r.Counts))
			for k := range r.Counts {
				tiers = append(tiers, k)
			}
			sort.Slice(tiers, func(i, j int) bool {
				a, _ := models.ParseUrgency(tiers[i])
				b, _ := models.ParseUrgency(tiers[j])
				return a > b
			})
			fmt.Fprint(w, "Counts:")
			for _, k := range tiers {
				fmt.Fprintf(w, " %s=%d", k, r.Counts[k])
			}
			fmt.Fprintln(w)
			if len(r.UrgencyBadges) > 0 {
				fmt.Fprintln(w, "Urgent:")
				printBadges(w, r.UrgencyBadges)
			}
		}),
	}
}

func newWorkloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "workload",
		Short: "Show the capacity indicator",
		RunE: run(opts, func(ctx context.Context) (*dashboard.Workload, error) {
			return opts.client().Workload(ctx, opts.focusUser())
		}, func(w io.Writer, v *dashboard.Workload) {
			fmt.Fprintf(w, "%s (%.0f%%)\n", v.CapacityIndicator.Level, v.CapacityIndicator.Percentage)
		}),
	}
}

func newUrgentCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "urgent",
		Short: "List HIGH and CRITICAL items",
		RunE: run(opts, func(ctx context.Context) (*dashboard.UrgentList, error) {
			return opts.client().Urgent(ctx, opts.focusUser())
		}, func(w io.Writer, v *dashboard.UrgentList) {
			printBadges(w, v.UrgencyBadges)
		}),
	}
}

func newClearCacheCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every cached snapshot on the server",
		RunE: run(opts, func(ctx context.Context) (*dashboard.ClearResult, error) {
			return opts.client().CacheClear(ctx)
		}, func(w io.Writer, v *dashboard.ClearResult) {
			fmt.Fprintf(w, "cache cleared, %d snapshots dropped\n", v.Dropped)
		}),
	}
}

func newSourcesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Show per-source health (admin)",
		RunE: run(opts, func(ctx context.Context) (map[models.Source]health.SourceHealth, error) {
			return opts.client().Sources(ctx)
		}, func(w io.Writer, v map[models.Source]health.SourceHealth) {
			for _, src := range models.AllSources {
				h, ok := v[src]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%-10s %-8s failures=%d", src, h.State, h.Failures)
				if h.LastError != "" {
					fmt.Fprintf(w, " last_error=%q", h.LastError)
				}
				fmt.Fprintln(w)
			}
		}),
	}
}

func newSessionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the caller's roles and permissions",
		RunE: run(opts, func(ctx context.Context) (*client.Session, error) {
			return opts.client().Session(ctx)
		}, func(w io.Writer, s *client.Session) {
			fmt.Fprintf(w, "user:        %s\nroles:       %v\npermissions: %v\n", s.User, s.Roles, s.Permissions)
		}),
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			h, err := opts.client().Health(ctx)
			if h != nil && h.Status != "" {
				if opts.asJSON {
					_ = printJSON(cmd.OutOrStdout(), h)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", h.Status)
					if h.Sources != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "sources: %s\n", h.Sources)
					}
					for name, st := range h.Dependencies {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, st)
					}
				}
			}
			return err
		},
	}
}
