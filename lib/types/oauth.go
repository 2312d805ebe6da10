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

package types

import "encoding/json"

// Function is a compute script evaluated by the external OAuth script
// runner.
type Function struct {
	Entry    string `bson:"entry" json:"entry"`
	Function string `bson:"function" json:"function"`
}

// ComputeRequest pairs an optional request computation with the blueprint
// that turns the platform response into an OAuthResponse.
type ComputeRequest struct {
	Computation *Function `bson:"computation,omitempty" json:"computation,omitempty"`
	Response    Function  `bson:"response" json:"response"`
}

// OAuthCompute holds the init and refresh scripts of a platform.
type OAuthCompute struct {
	Init    ComputeRequest `bson:"init" json:"init"`
	Refresh ComputeRequest `bson:"refresh" json:"refresh"`
}

// APIModelConfig describes the HTTP shape of an OAuth exchange.
type APIModelConfig struct {
	BaseURL     string            `bson:"baseUrl" json:"baseUrl"`
	Path        string            `bson:"path" json:"path"`
	Headers     map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	QueryParams map[string]string `bson:"queryParams,omitempty" json:"queryParams,omitempty"`
	Content     string            `bson:"content,omitempty" json:"content,omitempty"`
}

// OAuthAPIConfig holds the init and refresh HTTP configurations.
type OAuthAPIConfig struct {
	Init    APIModelConfig `bson:"init" json:"init"`
	Refresh APIModelConfig `bson:"refresh" json:"refresh"`
}

// Frontend carries the redirect and scope settings surfaced to the UI.
type Frontend struct {
	PlatformRedirectURI        string `bson:"platformRedirectUri" json:"platformRedirectUri"`
	SandboxPlatformRedirectURI string `bson:"sandboxPlatformRedirectUri,omitempty" json:"sandboxPlatformRedirectUri,omitempty"`
	Scopes                     string `bson:"scopes" json:"scopes"`
	Separator                  string `bson:"separator,omitempty" json:"separator,omitempty"`
}

// ConnectionOAuthDefinition is the catalog entry describing a platform's
// OAuth flow. Read-only at runtime. When IsFullTemplateEnabled is set the
// entire definition is rendered through the template engine against the
// incoming payload before dispatch.
type ConnectionOAuthDefinition struct {
	ID                    ID             `bson:"_id" json:"_id"`
	ConnectionPlatform    string         `bson:"connectionPlatform" json:"connectionPlatform"`
	Configuration         OAuthAPIConfig `bson:"configuration" json:"configuration"`
	Compute               OAuthCompute   `bson:"compute" json:"compute"`
	Frontend              Frontend       `bson:"frontend" json:"frontend"`
	IsFullTemplateEnabled bool           `bson:"isFullTemplateEnabled,omitempty" json:"isFullTemplateEnabled,omitempty"`

	RecordMetadata `bson:",inline"`
}

// ConnectedPlatform is one entry of a tenant's settings: a connection
// definition the tenant has configured credentials for.
type ConnectedPlatform struct {
	Type                   string      `bson:"type" json:"type"`
	Title                  string      `bson:"title" json:"title"`
	ConnectionDefinitionID ID          `bson:"connectionDefinitionId" json:"connectionDefinitionId"`
	Active                 *bool       `bson:"active,omitempty" json:"active,omitempty"`
	Image                  string      `bson:"image,omitempty" json:"image,omitempty"`
	SecretsServiceID       string      `bson:"secretsServiceId,omitempty" json:"secretsServiceId,omitempty"`
	Scopes                 string      `bson:"scopes,omitempty" json:"scopes,omitempty"`
	Environment            Environment `bson:"environment,omitempty" json:"environment,omitempty"`
}

// Settings is a tenant's configuration document.
type Settings struct {
	ID                 ID                  `bson:"_id" json:"_id"`
	Ownership          Ownership           `bson:"ownership" json:"ownership"`
	ConnectedPlatforms []ConnectedPlatform `bson:"connectedPlatforms" json:"connectedPlatforms"`
}

// PlatformSecretID selects the secret for a connection definition, prefering
// the entry matching the environment and falling back to any entry with that
// definition id. Returns an empty string when no entry matches.
func (s *Settings) PlatformSecretID(definitionID ID, env Environment) string {
	var fallback string
	for _, p := range s.ConnectedPlatforms {
		if p.ConnectionDefinitionID != definitionID {
			continue
		}
		if p.Environment == env {
			return p.SecretsServiceID
		}
		if fallback == "" {
			fallback = p.SecretsServiceID
		}
	}
	return fallback
}

// PlatformSecret is the tenant's client credential pair for one platform.
type PlatformSecret struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// OAuthResponse is the shape the script runner must produce.
type OAuthResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// OAuthSecret is the blob persisted after a successful init or refresh: the
// decoded response combined with the credentials and raw payloads needed by
// the refresh flow.
type OAuthSecret struct {
	AccessToken  string          `json:"accessToken"`
	ClientID     string          `json:"clientId"`
	ClientSecret string          `json:"clientSecret"`
	ExpiresIn    int64           `json:"expiresIn"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	TokenType    string          `json:"tokenType,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// NewOAuthSecret combines the decoded script-runner response with the client
// credentials and raw payloads.
func NewOAuthSecret(resp OAuthResponse, clientID, clientSecret string, raw, payload json.RawMessage) OAuthSecret {
	return OAuthSecret{
		AccessToken:  resp.AccessToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Response:     raw,
		Payload:      payload,
	}
}
