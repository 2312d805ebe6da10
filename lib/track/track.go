// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package track fans tracked metric events out to an analytics backend.
// Tracking is best effort: failures are logged as warnings and never
// propagate into the request path.
package track

import (
	"context"
	"log/slog"

	"github.com/picahq/pica/lib/types"
)

// Tracker delivers tracked events to an analytics backend.
type Tracker interface {
	Track(ctx context.Context, event types.TrackedEvent) error
	TrackMany(ctx context.Context, events []types.TrackedEvent) error
}

// LoggerTracker is the default backend: events land in the structured log
// and nowhere else.
type LoggerTracker struct {
	log *slog.Logger
}

// NewLoggerTracker builds the logging backend.
func NewLoggerTracker(log *slog.Logger) *LoggerTracker {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerTracker{log: log.With("component", "tracker")}
}

func (t *LoggerTracker) Track(ctx context.Context, event types.TrackedEvent) error {
	t.log.InfoContext(ctx, "tracked event",
		"event", event.Event,
		"distinct_id", event.DistinctID,
		"properties", event.Properties,
	)
	return nil
}

func (t *LoggerTracker) TrackMany(ctx context.Context, events []types.TrackedEvent) error {
	for _, event := range events {
		if err := t.Track(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
