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

package track

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/picahq/pica/lib/types"
)

// PosthogConfig configures the Posthog backend. Both the write key and the
// endpoint must be set; the caller falls back to the logger tracker when
// either is missing.
type PosthogConfig struct {
	WriteKey string
	Endpoint string
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PosthogConfig) CheckAndSetDefaults() error {
	if c.WriteKey == "" {
		return trace.BadParameter("missing WriteKey")
	}
	if c.Endpoint == "" {
		return trace.BadParameter("missing Endpoint")
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return nil
}

// PosthogTracker ships events to Posthog's batch capture endpoint.
type PosthogTracker struct {
	cfg PosthogConfig
}

// NewPosthogTracker builds the Posthog backend.
func NewPosthogTracker(cfg PosthogConfig) (*PosthogTracker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PosthogTracker{cfg: cfg}, nil
}

type posthogEvent struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

type posthogBatch struct {
	APIKey string         `json:"api_key"`
	Batch  []posthogEvent `json:"batch"`
}

func (t *PosthogTracker) Track(ctx context.Context, event types.TrackedEvent) error {
	return t.TrackMany(ctx, []types.TrackedEvent{event})
}

func (t *PosthogTracker) TrackMany(ctx context.Context, events []types.TrackedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := posthogBatch{APIKey: t.cfg.WriteKey, Batch: make([]posthogEvent, 0, len(events))}
	for _, event := range events {
		batch.Batch = append(batch.Batch, posthogEvent{
			Event:      event.Event,
			DistinctID: event.DistinctID,
			Properties: event.Properties,
		})
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return trace.Wrap(err)
	}

	url := strings.TrimSuffix(t.cfg.Endpoint, "/") + "/batch/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "posthog batch request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return trace.ConnectionProblem(nil, "posthog batch request returned %v", resp.Status)
	}
	return nil
}
