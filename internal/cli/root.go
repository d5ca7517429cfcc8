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

// Package cli implements priorityctl, the command-line client for the
// priority API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/priority/internal/client"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

type options struct {
	apiURL  string
	user    string
	focus   string
	asJSON  bool
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.apiURL, o.user, nil)
}

// focusUser defaults to the caller.
func (o *options) focusUser() string {
	if o.focus != "" {
		return o.focus
	}
	return o.user
}

// NewRootCmd builds the command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "priorityctl",
		Short: "Query the priority service",
		Long: `priorityctl reads ranked work items, capacity and source health from a
running priority service.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.apiURL, "api", envOrDefault("PRIORITY_API_URL", "http://localhost:8080"), "priority API base URL")
	pf.StringVar(&opts.user, "user", os.Getenv("PRIORITY_USER"), "caller identity")
	pf.StringVarP(&opts.focus, "focus", "f", "", "focus user to view (defaults to --user)")
	pf.BoolVar(&opts.asJSON, "json", false, "print raw JSON")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newDashboardCmd(opts),
		newReportCmd(opts),
		newWorkloadCmd(opts),
		newUrgentCmd(opts),
		newClearCacheCmd(opts),
		newSourcesCmd(opts),
		newSessionCmd(opts),
		newHealthCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "priorityctl %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
			},
		},
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
