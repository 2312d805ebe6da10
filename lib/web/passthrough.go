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

package web

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/dispatch"
	"github.com/picahq/pica/lib/types"
)

// passthrough forwards the caller's request to the upstream endpoint the
// resolved model definition addresses. The response carries Content-Length
// verbatim; every other upstream header comes back prefixed so gateway
// headers stay distinguishable.
func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	conn, err := connectionContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	path := p.ByName("path")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	dest := types.Destination{
		Platform:      conn.Platform,
		ConnectionKey: conn.Key,
		Action: types.Action{
			Passthrough: &types.PassthroughAction{
				Path:   path,
				Method: r.Method,
				ID:     r.Header.Get(defaults.HeaderActionID),
			},
		},
	}

	started := h.cfg.Clock.Now()
	resp, def, err := h.cfg.Dispatcher.Dispatch(r.Context(), conn, dest, h.forwardedHeaders(r.Header), r.URL.Query(), body)
	if err != nil {
		if def != nil {
			h.emitTelemetry(access, conn, def, path, http.StatusServiceUnavailable, started, false, nil,
				types.NewPassthroughMetric(conn, h.cfg.Clock.Now()))
		}
		return nil, trace.Wrap(err)
	}

	h.emitTelemetry(access, conn, def, path, resp.StatusCode, started, resp.Succeeded(), prefixedHeaders(resp.Headers),
		types.NewPassthroughMetric(conn, h.cfg.Clock.Now()))

	writeUpstream(w, resp, h.cfg.Log)
	return nil, nil
}

// writeUpstream relays the upstream response: Content-Length verbatim, every
// other header prefixed, status and body untouched.
func writeUpstream(w http.ResponseWriter, resp *dispatch.Response, log *slog.Logger) {
	for name, values := range resp.Headers {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(defaults.HeaderPassthroughPrefix+name, value)
		}
	}
	if length := resp.Headers.Get("Content-Length"); length != "" {
		w.Header().Set("Content-Length", length)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		log.Debug("client went away mid-response", "error", err)
	}
}

// forwardedHeaders strips the gateway's own headers before the request
// leaves for the upstream.
func (h *Handler) forwardedHeaders(headers http.Header) http.Header {
	out := http.Header{}
	for name, values := range headers {
		switch http.CanonicalHeaderKey(name) {
		case http.CanonicalHeaderKey(h.cfg.HeaderAuth),
			http.CanonicalHeaderKey(h.cfg.HeaderConnection),
			http.CanonicalHeaderKey(defaults.HeaderActionID),
			http.CanonicalHeaderKey(defaults.HeaderDualEnvironment),
			http.CanonicalHeaderKey(defaults.HeaderEnablePassthrough),
			"Host", "Content-Length":
			continue
		}
		for _, value := range values {
			out.Add(name, value)
		}
	}
	return out
}

// prefixedHeaders flattens an upstream response header set into the shape
// the gateway forwarded to the client: Content-Length verbatim, every other
// header prefixed.
func prefixedHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			out["Content-Length"] = strings.Join(values, ", ")
			continue
		}
		out[defaults.HeaderPassthroughPrefix+name] = strings.Join(values, ", ")
	}
	return out
}

// emitTelemetry pushes the metric and the event for one finished
// round-trip. The event carries the headers the gateway forwarded to the
// client. Both sinks are non-blocking; a full buffer drops the message with
// a log line.
func (h *Handler) emitTelemetry(access *types.EventAccess, conn *types.Connection, def *types.SparseCMD, path string, status int, started time.Time, succeeded bool, headers map[string]string, metric types.Metric) {
	now := h.cfg.Clock.Now()
	h.cfg.Metrics.Emit(metric)

	name := types.EventName(conn.Platform, def.PlatformVersion, def.Name, def.ActionName, succeeded)
	event, err := types.NewEvent(access, name, headers, types.EventBody{
		Timestamp:       now.UnixMilli(),
		TransactionKey:  conn.Key,
		Platform:        conn.Platform,
		PlatformVersion: def.PlatformVersion,
		Path:            path,
		StatusCode:      status,
		Latency:         now.Sub(started).Milliseconds(),
	}, now)
	if err != nil {
		h.cfg.Log.Warn("failed to assemble event", "error", err)
		return
	}
	h.cfg.Events.Emit(event)
}
