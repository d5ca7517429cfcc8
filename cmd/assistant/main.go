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

// Priority Assistant
//
// MCP server that exposes the priority API as tools for the chat layer.
//
// Usage:
//
//	go run ./cmd/assistant/ [--api http://localhost:8080] [--user alice] [--http :8090]
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/priority/internal/assistant"
	"github.com/bcem/priority/internal/client"
)

func main() {
	// Stdout carries the MCP stream, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	apiFlag := flag.String("api", envOrDefault("PRIORITY_API_URL", "http://localhost:8080"), "Priority API base URL")
	userFlag := flag.String("user", os.Getenv("PRIORITY_USER"), "Default focus user and caller identity")
	httpFlag := flag.String("http", "", "Serve MCP over HTTP on this address instead of stdio")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := assistant.NewServer(client.New(*apiFlag, *userFlag, nil), *userFlag)

	var err error
	if *httpFlag != "" {
		slog.Info("assistant serving MCP over HTTP", "addr", *httpFlag, "api", *apiFlag)
		err = srv.ServeHTTP(ctx, *httpFlag)
	} else {
		err = srv.ServeStdio(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("assistant stopped", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
