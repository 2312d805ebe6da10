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

// Package watchdog is the background process paired with the gateway: it
// resets the rate-limit counters every refresh interval and executes
// deferred tasks. Task leasing is a single bulk update flipping workerId
// from 0 to 1, which is the guard against double execution across replicas.
package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

// StatusFailed is written when the endpoint never produced a response.
// Otherwise the task records the upstream HTTP status line verbatim, e.g.
// "200 OK" or "502 Bad Gateway".
const StatusFailed = "failed"

// Config configures the watchdog.
type Config struct {
	// Tasks reads and writes the task collection.
	Tasks *mongostore.Store[types.Task]
	// Redis holds the throughput counters the watchdog resets.
	Redis redis.UniversalClient
	// RefreshInterval is the pause between ticks and the width of the
	// rate-limit window.
	RefreshInterval time.Duration
	// MaxTasks bounds how many tasks one tick leases.
	MaxTasks int64
	// HTTPClient calls task endpoints; tasks with await get AwaitClient.
	HTTPClient  *http.Client
	AwaitClient *http.Client

	Log   *slog.Logger
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Tasks == nil {
		return trace.BadParameter("missing Tasks")
	}
	if c.Redis == nil {
		return trace.BadParameter("missing Redis")
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = 100
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.HTTPClientTimeout}
	}
	if c.AwaitClient == nil {
		c.AwaitClient = &http.Client{Timeout: defaults.AwaitTaskTimeout}
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "watchdog")
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Watchdog runs the refresh and task-execution loops.
type Watchdog struct {
	cfg Config
}

// New builds a Watchdog.
func New(cfg Config) (*Watchdog, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Watchdog{cfg: cfg}, nil
}

// Run blocks until ctx is cancelled. The main loop ticks every refresh
// interval; a second lightweight loop clears the event throughput counter
// every second.
func (w *Watchdog) Run(ctx context.Context) error {
	go w.eventThroughputLoop(ctx)

	for {
		if err := w.tick(ctx); err != nil {
			w.cfg.Log.Error("watchdog tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-w.cfg.Clock.After(w.cfg.RefreshInterval):
		}
	}
}

func (w *Watchdog) eventThroughputLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.cfg.Clock.After(time.Second):
		}
		if err := w.cfg.Redis.Del(ctx, defaults.EventThroughputKey).Err(); err != nil {
			w.cfg.Log.Warn("failed to reset event throughput counter", "error", err)
		}
	}
}

// tick is one watchdog iteration: reset the API throughput window, lease
// eligible tasks and execute them.
func (w *Watchdog) tick(ctx context.Context) error {
	if err := w.cfg.Redis.Del(ctx, defaults.APIThroughputKey).Err(); err != nil {
		// The limiter fails open, so a missed reset only widens budgets.
		w.cfg.Log.Warn("failed to reset api throughput counter", "error", err)
	}

	tasks, err := w.lease(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(tasks) == 0 {
		return nil
	}
	w.cfg.Log.Info("executing tasks", "count", len(tasks))

	// The lease batch size bounds the fan-out.
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.execute(ctx, task)
		}()
	}
	wg.Wait()
	return nil
}

// lease fetches up to MaxTasks eligible tasks and claims them in one bulk
// update. The workerId 0 to 1 flip is atomic per document.
func (w *Watchdog) lease(ctx context.Context) ([]types.Task, error) {
	now := w.cfg.Clock.Now()
	tasks, err := w.cfg.Tasks.List(ctx, bson.M{
		"active":    true,
		"workerId":  int64(0),
		"startTime": bson.M{"$lte": now.UnixMilli()},
	}, mongostore.FindOpts{Limit: w.cfg.MaxTasks})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID.String())
	}
	if err := w.cfg.Tasks.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"workerId": int64(1), "active": false}},
	); err != nil {
		return nil, trace.Wrap(err)
	}
	return tasks, nil
}

// execute POSTs the payload to the task endpoint, streams the response into
// the log trail and writes the upstream status line back. The outcome is
// terminal either way; tasks are not retried.
func (w *Watchdog) execute(ctx context.Context, task types.Task) {
	status, trail := w.call(ctx, task)

	update := bson.M{"$set": bson.M{
		"status":    status,
		"endTime":   w.cfg.Clock.Now().UnixMilli(),
		"logTrail":  trail,
		"updatedAt": w.cfg.Clock.Now().UnixMilli(),
		"updated":   true,
	}}
	if err := w.cfg.Tasks.UpdateOne(ctx, task.ID.String(), update); err != nil {
		w.cfg.Log.Error("failed to record task result", "task", task.ID, "error", err)
	}
}

func (w *Watchdog) call(ctx context.Context, task types.Task) (string, [][]byte) {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		w.cfg.Log.Error("task payload is not serializable", "task", task.ID, "error", err)
		return StatusFailed, [][]byte{[]byte(err.Error())}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return StatusFailed, [][]byte{[]byte(err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.cfg.HTTPClient
	if task.Await {
		client = w.cfg.AwaitClient
	}
	resp, err := client.Do(req)
	if err != nil {
		w.cfg.Log.Warn("task endpoint unreachable", "task", task.ID, "endpoint", task.Endpoint, "error", err)
		return StatusFailed, [][]byte{[]byte(err.Error())}
	}
	defer resp.Body.Close()

	trail := streamTrail(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.cfg.Log.Warn("task endpoint answered non-2xx", "task", task.ID, "status", resp.StatusCode)
	}
	return resp.Status, trail
}

// streamTrail drains the body in chunks so long-running task endpoints show
// incremental progress in the trail.
func streamTrail(body io.Reader) [][]byte {
	var trail [][]byte
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			trail = append(trail, chunk)
		}
		if err != nil {
			return trail
		}
	}
}
