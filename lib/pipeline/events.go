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

// Package pipeline owns the background telemetry flows: the event batcher
// that bulk-inserts request events and the metric aggregator that upserts
// per-tenant counters and fans out to the analytics tracker. Emission is
// fire and forget; a full buffer drops the message with a log line rather
// than blocking a request.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

// EventSinkConfig configures an EventSink.
type EventSinkConfig struct {
	// Store receives the bulk inserts.
	Store *mongostore.Store[types.Event]
	// BufferSize is both the channel capacity and the flush threshold.
	BufferSize int
	// FlushTimeout flushes a non-empty buffer after this much inactivity.
	FlushTimeout time.Duration
	Log          *slog.Logger
	Clock        clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *EventSinkConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.BufferSize <= 0 {
		return trace.BadParameter("missing BufferSize")
	}
	if c.FlushTimeout <= 0 {
		return trace.BadParameter("missing FlushTimeout")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "event-sink")
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// EventSink collects emitted events and bulk-inserts them. Flushes run on a
// bounded worker pool so a slow database never stalls the collector.
type EventSink struct {
	cfg    EventSinkConfig
	ch     chan types.Event
	sem    *semaphore.Weighted
	flushs sync.WaitGroup
	done   chan struct{}

	closeOnce sync.Once
}

// NewEventSink builds the sink and starts its collector goroutine.
func NewEventSink(cfg EventSinkConfig) (*EventSink, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &EventSink{
		cfg:  cfg,
		ch:   make(chan types.Event, cfg.BufferSize),
		sem:  semaphore.NewWeighted(defaults.NumFlushWorkers),
		done: make(chan struct{}),
	}
	go s.collect()
	return s, nil
}

// Emit queues an event without blocking. A full channel drops the event and
// reports false; events are telemetry, not system of record.
func (s *EventSink) Emit(event types.Event) bool {
	select {
	case s.ch <- event:
		return true
	default:
		s.cfg.Log.Error("event buffer full, dropping event", "event_name", event.Name)
		return false
	}
}

// Close stops intake, drains buffered events through a final flush and
// waits for in-flight inserts, or gives up when ctx expires.
func (s *EventSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.ch) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

func (s *EventSink) collect() {
	defer close(s.done)

	buf := make([]types.Event, 0, s.cfg.BufferSize)
	for {
		select {
		case event, ok := <-s.ch:
			if !ok {
				s.flush(buf)
				s.flushs.Wait()
				return
			}
			buf = append(buf, event)
			if len(buf) >= s.cfg.BufferSize {
				s.flush(buf)
				buf = make([]types.Event, 0, s.cfg.BufferSize)
			}
		case <-s.cfg.Clock.After(s.cfg.FlushTimeout):
			if len(buf) > 0 {
				s.flush(buf)
				buf = make([]types.Event, 0, s.cfg.BufferSize)
			}
		}
	}
}

func (s *EventSink) flush(events []types.Event) {
	if len(events) == 0 {
		return
	}
	// The semaphore bounds concurrent inserts; acquisition blocks the
	// collector only when all flush workers are busy.
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	s.flushs.Add(1)
	go func() {
		defer s.flushs.Done()
		defer s.sem.Release(1)
		if err := s.cfg.Store.CreateMany(context.Background(), events); err != nil {
			s.cfg.Log.Error("bulk event insert failed", "error", err, "count", len(events))
			return
		}
		s.cfg.Log.Debug("flushed events", "count", len(events))
	}()
}
