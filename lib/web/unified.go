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
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/httplib"
	"github.com/picahq/pica/lib/types"
)

// unifiedMeta is the metadata block attached to every unified response.
type unifiedMeta struct {
	Timestamp       int64            `json:"timestamp"`
	TransactionKey  string           `json:"transactionKey"`
	Platform        string           `json:"platform"`
	PlatformVersion string           `json:"platformVersion"`
	CommonModel     string           `json:"commonModel"`
	Action          types.CrudAction `json:"action"`
	StatusCode      int              `json:"statusCode"`
	Latency         int64            `json:"latency"`
}

// unifiedResponse wraps the extractor output in the common-model envelope.
type unifiedResponse struct {
	Unified json.RawMessage `json:"unified"`
	Meta    unifiedMeta     `json:"meta"`
}

// unified builds the handler for one common-model action. The :model param
// names the common model, the :id param the entity for entity-addressed
// actions. A GET with id "count" is the count action, since the router
// cannot carry a static sibling next to the :id segment.
func (h *Handler) unified(action types.CrudAction) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		access, err := authContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		conn, err := connectionContext(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		model := p.ByName("model")
		id := p.ByName("id")
		if action == types.ActionGetOne && id == "count" {
			action, id = types.ActionGetCount, ""
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}

		started := h.cfg.Clock.Now()
		resp, def, err := h.cfg.Dispatcher.DispatchUnified(r.Context(), conn, model, action, id,
			h.forwardedHeaders(r.Header), r.URL.Query(), body)
		if err != nil {
			if def != nil {
				h.emitTelemetry(access, conn, def, r.URL.Path, http.StatusServiceUnavailable, started, false, nil,
					types.NewUnifiedMetric(conn, model, action, h.cfg.Clock.Now()))
			}
			return nil, trace.Wrap(err)
		}

		h.emitTelemetry(access, conn, def, r.URL.Path, resp.StatusCode, started, resp.Succeeded(), prefixedHeaders(resp.Headers),
			types.NewUnifiedMetric(conn, model, action, h.cfg.Clock.Now()))

		// With passthrough enabled the caller gets the upstream response
		// verbatim, headers prefixed the same way the passthrough path does.
		if r.Header.Get(defaults.HeaderEnablePassthrough) == "true" {
			writeUpstream(w, resp, h.cfg.Log)
			return nil, nil
		}

		unified := resp.Body
		if !json.Valid(unified) {
			unified, err = json.Marshal(string(resp.Body))
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		now := h.cfg.Clock.Now()
		out := unifiedResponse{
			Unified: unified,
			Meta: unifiedMeta{
				Timestamp:       now.UnixMilli(),
				TransactionKey:  conn.Key,
				Platform:        conn.Platform,
				PlatformVersion: def.PlatformVersion,
				CommonModel:     model,
				Action:          action,
				StatusCode:      resp.StatusCode,
				Latency:         now.Sub(started).Milliseconds(),
			},
		}
		if !resp.Succeeded() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.StatusCode)
			if err := json.NewEncoder(w).Encode(out); err != nil {
				h.cfg.Log.Debug("client went away mid-response", "error", err)
			}
			return nil, nil
		}
		return out, nil
	}
}
