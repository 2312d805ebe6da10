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

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/track"
	"github.com/picahq/pica/lib/types"
)

// MetricSinkConfig configures a MetricSink.
type MetricSinkConfig struct {
	// Store holds the per-client counter documents, keyed by clientId.
	Store *mongostore.Store[bson.M]
	// Tracker receives the analytics fan-out.
	Tracker track.Tracker
	// SystemID is the fleet-wide counter document every metric is mirrored
	// into.
	SystemID string
	// ChannelSize is the emit channel capacity.
	ChannelSize int
	// TrackerFlushTimeout flushes a non-empty tracker buffer after this
	// much inactivity.
	TrackerFlushTimeout time.Duration
	Log                 *slog.Logger
	Clock               clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *MetricSinkConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Tracker == nil {
		return trace.BadParameter("missing Tracker")
	}
	if c.SystemID == "" {
		return trace.BadParameter("missing SystemID")
	}
	if c.ChannelSize <= 0 {
		return trace.BadParameter("missing ChannelSize")
	}
	if c.TrackerFlushTimeout <= 0 {
		c.TrackerFlushTimeout = 10 * time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "metric-sink")
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// MetricSink upserts counter documents for every emitted metric and buffers
// the tracker fan-out. Every metric lands in two documents: the tenant's
// and the fleet-wide system document, so a global view is always in sync.
type MetricSink struct {
	cfg  MetricSinkConfig
	ch   chan types.Metric
	done chan struct{}

	closeOnce sync.Once
}

// NewMetricSink builds the sink and starts its collector goroutine.
func NewMetricSink(cfg MetricSinkConfig) (*MetricSink, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &MetricSink{
		cfg:  cfg,
		ch:   make(chan types.Metric, cfg.ChannelSize),
		done: make(chan struct{}),
	}
	go s.collect()
	return s, nil
}

// Emit queues a metric without blocking; a full channel drops it.
func (s *MetricSink) Emit(metric types.Metric) bool {
	select {
	case s.ch <- metric:
		return true
	default:
		s.cfg.Log.Error("metric buffer full, dropping metric", "kind", metric.Kind)
		return false
	}
}

// Close stops intake, processes queued metrics and flushes the tracker
// buffer, or gives up when ctx expires.
func (s *MetricSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.ch) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

func (s *MetricSink) collect() {
	defer close(s.done)

	buf := make([]types.TrackedEvent, 0, defaults.MaxBufferSize)
	for {
		select {
		case metric, ok := <-s.ch:
			if !ok {
				s.flushTracker(buf)
				return
			}
			s.record(metric)
			// Passthrough traffic is too chatty for the analytics
			// backend; only unified and rate-limit events fan out.
			if metric.Kind != types.MetricPassthrough {
				buf = append(buf, metric.Tracked())
			}
			if len(buf) >= defaults.MaxBufferSize {
				s.flushTracker(buf)
				buf = make([]types.TrackedEvent, 0, defaults.MaxBufferSize)
			}
		case <-s.cfg.Clock.After(s.cfg.TrackerFlushTimeout):
			if len(buf) > 0 {
				s.flushTracker(buf)
				buf = make([]types.TrackedEvent, 0, defaults.MaxBufferSize)
			}
		}
	}
}

func (s *MetricSink) record(metric types.Metric) {
	update := metric.UpdateDoc()
	group, ctx := errgroup.WithContext(context.Background())
	for _, clientID := range []string{metric.Ownership().ClientID, s.cfg.SystemID} {
		group.Go(func() error {
			return s.cfg.Store.Upsert(ctx, bson.M{"clientId": clientID}, update)
		})
	}
	if err := group.Wait(); err != nil {
		s.cfg.Log.Error("metric upsert failed", "error", err, "kind", metric.Kind)
	}
}

func (s *MetricSink) flushTracker(events []types.TrackedEvent) {
	if len(events) == 0 {
		return
	}
	if err := s.cfg.Tracker.TrackMany(context.Background(), events); err != nil {
		s.cfg.Log.Warn("tracker flush failed", "error", err, "count", len(events))
	}
}
