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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/accesskey"
	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/httplib"
	"github.com/picahq/pica/lib/types"
)

// oauthInitRequest is the body of POST /v1/oauth/:platform.
type oauthInitRequest struct {
	ConnectionDefinitionID types.ID                     `json:"connectionDefinitionId"`
	ClientID               string                       `json:"clientId"`
	Payload                map[string]any               `json:"payload,omitempty"`
	Name                   string                       `json:"name,omitempty"`
	Group                  string                       `json:"group,omitempty"`
	Identity               string                       `json:"identity,omitempty"`
	IdentityType           types.ConnectionIdentityType `json:"identityType,omitempty"`
	IsEngineeringAccount   bool                         `json:"isEngineeringAccount,omitempty"`
}

// computeInitRequest is the blob POSTed to the script runner.
type computeInitRequest struct {
	Definition *types.ConnectionOAuthDefinition `json:"connectionOAuthDefinition"`
	Payload    map[string]any                   `json:"payload,omitempty"`
	Secret     types.PlatformSecret             `json:"secret"`
}

// oauthInit provisions a connection through a platform's OAuth flow: it
// exchanges the caller's payload for tokens via the external script runner,
// stores the resulting secret, mints a derived access key and creates the
// connection with its expiry stamped.
func (h *Handler) oauthInit(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	access, err := authContext(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	platform := p.ByName("platform")

	var req oauthInitRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.ConnectionDefinitionID == "" {
		return nil, trace.BadParameter("missing connectionDefinitionId")
	}

	def, err := h.oauthDefinition(r.Context(), platform)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	settings, err := h.tenantSettings(r.Context(), access, req.IsEngineeringAccount)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	secretID := settings.PlatformSecretID(req.ConnectionDefinitionID, access.Environment)
	if secretID == "" {
		return nil, trace.BadParameter("no configured credentials for connection definition %v", req.ConnectionDefinitionID)
	}
	var platformSecret types.PlatformSecret
	if err := h.cfg.Secrets.Get(r.Context(), secretID, settings.Ownership.ID, &platformSecret); err != nil {
		return nil, trace.Wrap(err)
	}

	if def.IsFullTemplateEnabled {
		def, err = h.cfg.Template.RenderDefinition(def, req.Payload)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	resp, raw, err := h.computeInit(r.Context(), def, req.Payload, platformSecret)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	now := h.cfg.Clock.Now()
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	secret := types.NewOAuthSecret(*resp, platformSecret.ClientID, platformSecret.ClientSecret, raw, payload)
	record, err := h.cfg.Secrets.Create(r.Context(), access.Ownership.ID, secret, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	key := connectionKey(access.Environment, platform, req.Identity, req.Group)

	derived, err := h.deriveEventAccess(r.Context(), access, platform, req.Group, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	conn := types.Connection{
		ID:                     types.NewID(types.IDPrefixConnection, now),
		ConnectionDefinitionID: req.ConnectionDefinitionID,
		Type:                   "api",
		Key:                    key,
		Group:                  req.Group,
		Name:                   req.Name,
		Environment:            access.Environment,
		Platform:               platform,
		SecretsServiceID:       string(record.ID),
		EventAccessID:          derived.ID,
		AccessKey:              derived.AccessKey,
		Identity:               req.Identity,
		IdentityType:           req.IdentityType,
		Throughput:             types.Throughput{Key: derived.Ownership.ID, Limit: access.Throughput},
		Ownership:              access.Ownership,
		OAuth: &types.OAuth{Enabled: &types.OAuthEnabled{
			ConnectionOAuthDefinitionID: def.ID,
			ExpiresIn:                   resp.ExpiresIn,
			ExpiresAt:                   now.Unix() + resp.ExpiresIn - int64(defaults.OAuthExpiryMargin.Seconds()),
		}},
		RecordMetadata: types.NewRecordMetadata(now),
	}
	if err := h.cfg.Stores.Connections.CreateOne(r.Context(), &conn); err != nil {
		return nil, trace.Wrap(err)
	}
	return conn.Sanitized(), nil
}

// oauthDefinition reads the platform's OAuth definition through its cache.
func (h *Handler) oauthDefinition(ctx context.Context, platform string) (*types.ConnectionOAuthDefinition, error) {
	def, err := h.cfg.Caches.OAuthDefs.Get(ctx, platform, func(ctx context.Context) (*types.ConnectionOAuthDefinition, error) {
		def, err := h.cfg.Stores.OAuthDefs.GetOne(ctx, bson.M{
			"connectionPlatform": platform,
			"deleted":            false,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return def, nil
	})
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("platform %q has no oauth definition", platform)
		}
		return nil, trace.Wrap(err)
	}
	return def, nil
}

// tenantSettings loads the caller's settings document, or the engineering
// account's when the request provisions on its behalf.
func (h *Handler) tenantSettings(ctx context.Context, access *types.EventAccess, engineering bool) (*types.Settings, error) {
	ownershipID := access.Ownership.ID
	if engineering {
		if h.cfg.EngineeringAccountID == "" {
			return nil, trace.BadParameter("engineering account provisioning is not configured")
		}
		ownershipID = h.cfg.EngineeringAccountID
	}
	settings, err := h.cfg.Stores.Settings.GetOne(ctx, bson.M{"ownership.buildableId": ownershipID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return settings, nil
}

// computeInit posts the rendered definition, payload and credentials to the
// script runner and decodes its OAuthResponse.
func (h *Handler) computeInit(ctx context.Context, def *types.ConnectionOAuthDefinition, payload map[string]any, secret types.PlatformSecret) (*types.OAuthResponse, json.RawMessage, error) {
	body, err := json.Marshal(computeInitRequest{Definition: def, Payload: payload, Secret: secret})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.OAuthURL+"/oauth/dynamic-dispatch/init", bytes.NewReader(body))
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, trace.ConnectionProblem(err, "oauth compute service unreachable")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, trace.ConvertSystemError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, nil, trace.ConnectionProblem(nil, "oauth compute service answered %v: %s", httpResp.StatusCode, raw)
	}

	var resp types.OAuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, trace.BadParameter("oauth compute service produced an undecodable response: %v", err)
	}
	if resp.AccessToken == "" {
		return nil, nil, trace.BadParameter("oauth compute service produced no access token")
	}
	return &resp, raw, nil
}

// deriveEventAccess mints the access record backing the new connection. The
// throughput budget is inherited from the caller's credential.
func (h *Handler) deriveEventAccess(ctx context.Context, access *types.EventAccess, platform, group string, now time.Time) (*types.EventAccess, error) {
	key, err := h.cfg.Codec.Encode(accesskey.Claims{
		OwnershipID: access.Ownership.ID,
		Environment: access.Environment,
		Namespace:   access.Namespace,
		Group:       group,
		Platform:    platform,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id := types.NewID(types.IDPrefixEventAccess, now)
	derived := types.EventAccess{
		ID:             id,
		Name:           platform + " oauth connection",
		Key:            string(id),
		Namespace:      access.Namespace,
		Platform:       platform,
		Type:           "custom",
		Group:          group,
		Ownership:      access.Ownership,
		AccessKey:      key,
		Environment:    access.Environment,
		Throughput:     access.Throughput,
		RecordMetadata: types.NewRecordMetadata(now),
	}
	if err := h.cfg.Stores.EventAccess.CreateOne(ctx, &derived); err != nil {
		return nil, trace.Wrap(err)
	}
	return &derived, nil
}

// connectionKey synthesizes env::platform::default::<uuid-hex>, suffixed
// with a sanitized identity when one was supplied. Group substitutes for a
// missing identity; a fresh uuid substitutes for both.
func connectionKey(env types.Environment, platform, identity, group string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")

	tag := identity
	if tag == "" {
		tag = group
	}
	if tag == "" {
		tag = uuid.NewString()
	}
	tag = strings.ReplaceAll(tag, " ", "-")
	tag = strings.ReplaceAll(tag, ":", "-")
	return string(env) + "::" + platform + "::default::" + suffix + "|" + tag
}
