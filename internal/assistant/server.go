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

// Package assistant exposes the priority operations as MCP tools so the
// chat layer can answer "what should I work on" style questions.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/mcp-go"

	"github.com/bcem/priority/internal/dashboard"
	"github.com/bcem/priority/internal/models"
)

var (
	Version     = "dev"
	BuildCommit = "unknown"
	BuildDate   = "unknown"
)

// Service is the subset of the priority API the tools call.
type Service interface {
	Report(ctx context.Context, focusUser string) (*dashboard.Report, error)
	Workload(ctx context.Context, focusUser string) (*dashboard.Workload, error)
	Urgent(ctx context.Context, focusUser string) (*dashboard.UrgentList, error)
	CacheClear(ctx context.Context) (*dashboard.ClearResult, error)
}

// Server is the MCP server.
type Server struct {
	mcpServer   *mcp.Server
	svc         Service
	defaultUser string
}

// FocusArgs selects whose priorities to read.
type FocusArgs struct {
	FocusUser string `json:"focus_user,omitempty" jsonschema:"description=Username, employee code or email. Defaults to the configured user."`
}

// NewServer creates the MCP server. defaultUser is used when a tool call
// omits focus_user.
func NewServer(svc Service, defaultUser string) *Server {
	info := mcp.ServerInfo{
		Name:    "priority",
		Version: Version,
	}
	s := &Server{
		mcpServer: mcp.NewServer(info,
			mcp.WithTitle("Priority Assistant"),
			mcp.WithDescription("Ranks JIRA issues, Outlook mail and meetings, and Confluence pages by urgency."),
			mcp.WithBuildInfo(BuildCommit, BuildDate),
			mcp.WithInstructions("Use priority_status_update for a full briefing, priority_urgent for what needs attention now and priority_workload for capacity."),
		),
		svc:         svc,
		defaultUser: defaultUser,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("priority_status_update").
		Description("Narrative status update: counts per urgency tier, top items, capacity and any unavailable sources").
		Handler(s.handleStatusUpdate)

	s.mcpServer.Tool("priority_urgent").
		Description("List HIGH and CRITICAL items in rank order").
		Handler(s.handleUrgent)

	s.mcpServer.Tool("priority_workload").
		Description("Current capacity level and percentage").
		Handler(s.handleWorkload)

	s.mcpServer.Tool("priority_cache_clear").
		Description("Drop cached snapshots so the next request re-reads every source").
		Handler(s.handleCacheClear)
}

// ServeStdio serves MCP over stdin/stdout until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP serves MCP over HTTP on addr until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr, mcp.WithDefaultCORS())
}

func (s *Server) focus(args FocusArgs) string {
	if u := strings.TrimSpace(args.FocusUser); u != "" {
		return u
	}
	return s.defaultUser
}

// toolErr turns service errors into messages a chat client can relay.
func toolErr(err error) error {
	switch {
	case errors.Is(err, models.ErrNoDataAvailable):
		return fmt.Errorf("no priority data is available yet; the sources may be unreachable, try again shortly")
	case errors.Is(err, models.ErrInvalidFocusUser):
		return fmt.Errorf("that user name is not valid; use a username, employee code or email")
	}
	return fmt.Errorf("priority service request failed: %v", err)
}

// statusUpdate is the tool payload for priority_status_update.
type statusUpdate struct {
	Text   string            `json:"text"`
	Report *dashboard.Report `json:"report"`
}

func (s *Server) handleStatusUpdate(ctx context.Context, args FocusArgs) (any, error) {
	r, err := s.svc.Report(ctx, s.focus(args))
	if err != nil {
		return nil, toolErr(err)
	}
	return statusUpdate{Text: renderReport(r), Report: r}, nil
}

func (s *Server) handleUrgent(ctx context.Context, args FocusArgs) (any, error) {
	u, err := s.svc.Urgent(ctx, s.focus(args))
	if err != nil {
		return nil, toolErr(err)
	}
	if len(u.UrgencyBadges) == 0 {
		return "Nothing urgent right now.", nil
	}
	return u, nil
}

func (s *Server) handleWorkload(ctx context.Context, args FocusArgs) (any, error) {
	w, err := s.svc.Workload(ctx, s.focus(args))
	if err != nil {
		return nil, toolErr(err)
	}
	return fmt.Sprintf("Capacity is %s at %.0f%%.", w.CapacityIndicator.Level, w.CapacityIndicator.Percentage), nil
}

func (s *Server) handleCacheClear(ctx context.Context, _ struct{}) (any, error) {
	res, err := s.svc.CacheClear(ctx)
	if err != nil {
		return nil, toolErr(err)
	}
	return fmt.Sprintf("Cache cleared (%d snapshots dropped).", res.Dropped), nil
}

// renderReport appends the top urgent items to the narrative.
func renderReport(r *dashboard.Report) string {
	var b strings.Builder
	b.WriteString(r.Narrative)
	top := r.UrgencyBadges
	if len(top) > 5 {
		top = top[:5]
	}
	if len(top) > 0 {
		b.WriteString("\n\nUrgent:")
		for i, badge := range top {
			fmt.Fprintf(&b, "\n%d. [%s] %s (%s %s)", i+1, badge.Urgency, badge.Title, badge.Source, badge.ID)
		}
	}
	return b.String()
}
