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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/picahq/pica/lib/types"
)

func TestPosthogTrackMany(t *testing.T) {
	var got posthogBatch
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tracker, err := NewPosthogTracker(PosthogConfig{
		WriteKey: "phc_test",
		Endpoint: srv.URL,
		Client:   srv.Client(),
	})
	require.NoError(t, err)

	events := []types.TrackedEvent{
		{Event: "Called Passthrough API", DistinctID: "build-1", Properties: map[string]any{"platform": "stripe"}},
		{Event: "Reached Rate Limit", DistinctID: "build-2"},
	}
	require.NoError(t, tracker.TrackMany(context.Background(), events))

	require.Equal(t, "/batch/", path)
	require.Equal(t, "phc_test", got.APIKey)
	require.Len(t, got.Batch, 2)
	require.Equal(t, "Called Passthrough API", got.Batch[0].Event)
	require.Equal(t, "build-1", got.Batch[0].DistinctID)
	require.Equal(t, "stripe", got.Batch[0].Properties["platform"])
}

func TestPosthogTrackManyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tracker, err := NewPosthogTracker(PosthogConfig{
		WriteKey: "phc_test",
		Endpoint: srv.URL,
		Client:   srv.Client(),
	})
	require.NoError(t, err)

	err = tracker.Track(context.Background(), types.TrackedEvent{Event: "Called Unified API", DistinctID: "d"})
	require.Error(t, err)
}

func TestPosthogConfigValidation(t *testing.T) {
	_, err := NewPosthogTracker(PosthogConfig{WriteKey: "k"})
	require.Error(t, err)
	_, err = NewPosthogTracker(PosthogConfig{Endpoint: "http://example.com"})
	require.Error(t, err)
}

func TestPosthogEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tracker, err := NewPosthogTracker(PosthogConfig{WriteKey: "k", Endpoint: srv.URL, Client: srv.Client()})
	require.NoError(t, err)
	require.NoError(t, tracker.TrackMany(context.Background(), nil))
	require.False(t, called)
}
