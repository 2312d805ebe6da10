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
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/httplib"
	"github.com/picahq/pica/lib/secrets"
)

// createSecret encrypts an arbitrary JSON payload into the tenant's vault
// and returns the record envelope. The plaintext never appears in the
// response; callers read it back by id.
func (h *Handler) createSecret(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var payload map[string]any
	if err := httplib.ReadJSON(r, &payload); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(payload) == 0 {
		return nil, trace.BadParameter("empty secret payload")
	}
	record, err := h.cfg.Secrets.Create(r.Context(), access.Ownership.ID, payload, h.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return record, nil
}

// listSecrets pages the tenant's secret envelopes, ciphertext withheld.
func (h *Handler) listSecrets(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	opts, err := pagingOpts(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	records, total, err := h.cfg.Secrets.List(r.Context(), access.Ownership.ID, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listResponse[secrets.Record]{Rows: records, Limit: opts.Limit, Skip: opts.Skip, Total: total}, nil
}

// getSecret decrypts one secret back to its stored payload, scoped to the
// calling tenant.
func (h *Handler) getSecret(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var payload map[string]any
	if err := h.cfg.Secrets.Get(r.Context(), p.ByName("id"), access.Ownership.ID, &payload); err != nil {
		return nil, trace.Wrap(err)
	}
	return payload, nil
}

// getMetrics returns the caller's aggregated metric document. A tenant with
// no recorded traffic gets an empty document rather than a 404.
func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	doc, err := h.cfg.Stores.Metrics.GetOne(r.Context(), bson.M{"clientId": access.Ownership.ClientID})
	if err != nil {
		if trace.IsNotFound(err) {
			return bson.M{"clientId": access.Ownership.ClientID}, nil
		}
		return nil, trace.Wrap(err)
	}
	return doc, nil
}
