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

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bcem/priority/internal/aggregate"
	"github.com/bcem/priority/internal/scoring"
)

// ModelFunc receives a reloaded scoring model.
type ModelFunc func(ctx context.Context, params scoring.Params, capacity aggregate.CapacityConfig)

// Watch reloads the scoring and capacity sections whenever the file at path
// changes and hands them to onChange. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic replacements (editor renames, ConfigMap symlink swaps) are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange ModelFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		params, capacity, err := LoadModel(path)
		if err != nil {
			slog.Warn("config reload failed, keeping current scoring model", "path", path, "error", err)
			return
		}
		slog.Info("scoring model reloaded", "path", path)
		onChange(ctx, params, capacity)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name && filepath.Base(event.Name) != "..data" {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
