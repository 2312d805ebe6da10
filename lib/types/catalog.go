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

import "strings"

// ConnectionDefinition is the catalog entry describing a platform. Read-only
// at runtime.
type ConnectionDefinition struct {
	ID              ID             `bson:"_id" json:"_id"`
	Platform        string         `bson:"platform" json:"platform"`
	PlatformVersion string         `bson:"platformVersion" json:"platformVersion"`
	Type            string         `bson:"type" json:"type"`
	Name            string         `bson:"name" json:"name"`
	Description     string         `bson:"description,omitempty" json:"description,omitempty"`
	Category        string         `bson:"category,omitempty" json:"category,omitempty"`
	Image           string         `bson:"image,omitempty" json:"image,omitempty"`
	Tags            []string       `bson:"tags,omitempty" json:"tags,omitempty"`
	Paths           Paths          `bson:"paths" json:"paths"`
	Settings        map[string]any `bson:"settings,omitempty" json:"settings,omitempty"`
	Hidden          bool           `bson:"hidden" json:"hidden"`

	RecordMetadata `bson:",inline"`
}

// PublicConnectionDetails is the unauthenticated catalog view served from
// /v1/public/connection-definitions.
type PublicConnectionDetails struct {
	ID          ID       `bson:"_id" json:"_id"`
	Platform    string   `bson:"platform" json:"platform"`
	Name        string   `bson:"name" json:"name"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Category    string   `bson:"category,omitempty" json:"category,omitempty"`
	Image       string   `bson:"image,omitempty" json:"image,omitempty"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	OAuth       bool     `bson:"oauth" json:"oauth"`

	RecordMetadata `bson:",inline"`
}

// CrudAction enumerates the operations a connection model definition can
// implement against its upstream endpoint.
type CrudAction string

const (
	ActionCreate   CrudAction = "create"
	ActionUpdate   CrudAction = "update"
	ActionGetOne   CrudAction = "getOne"
	ActionGetMany  CrudAction = "getMany"
	ActionGetCount CrudAction = "getCount"
	ActionDelete   CrudAction = "delete"
	ActionUpsert   CrudAction = "upsert"
	ActionCustom   CrudAction = "custom"
)

// ConnectionModelDefinition describes one upstream endpoint: where it lives,
// which HTTP method drives it and how it maps onto a common model.
type ConnectionModelDefinition struct {
	ID                     ID                `bson:"_id" json:"_id"`
	ConnectionPlatform     string            `bson:"connectionPlatform" json:"connectionPlatform"`
	ConnectionDefinitionID ID                `bson:"connectionDefinitionId" json:"connectionDefinitionId"`
	PlatformVersion        string            `bson:"platformVersion" json:"platformVersion"`
	Key                    string            `bson:"key" json:"key"`
	Title                  string            `bson:"title" json:"title"`
	Name                   string            `bson:"name" json:"name"`
	ModelName              string            `bson:"modelName,omitempty" json:"modelName,omitempty"`
	BaseURL                string            `bson:"baseUrl" json:"baseUrl"`
	Path                   string            `bson:"path" json:"path"`
	// Action is the upstream HTTP method, uppercased.
	Action     string            `bson:"action" json:"action"`
	ActionName CrudAction        `bson:"actionName" json:"actionName"`
	Headers    map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	QueryParams map[string]string `bson:"queryParams,omitempty" json:"queryParams,omitempty"`
	Samples    map[string]any    `bson:"samples,omitempty" json:"samples,omitempty"`

	RecordMetadata `bson:",inline"`
}

// CacheKey is the hot-path lookup key for a definition:
// connectionPlatform::path::METHOD with the method uppercased.
func CMDCacheKey(platform, path, method string) string {
	return platform + "::" + path + "::" + strings.ToUpper(method)
}

// SparseCMD is the projection of a ConnectionModelDefinition loaded on the
// passthrough hot path; only the routing fields are materialized.
type SparseCMD struct {
	ID                     ID         `bson:"_id" json:"_id"`
	Title                  string     `bson:"title" json:"title"`
	Name                   string     `bson:"name" json:"name"`
	Path                   string     `bson:"path" json:"path"`
	BaseURL                string     `bson:"baseUrl" json:"baseUrl"`
	Action                 string     `bson:"action" json:"action"`
	ActionName             CrudAction `bson:"actionName" json:"actionName"`
	ConnectionPlatform     string     `bson:"connectionPlatform" json:"connectionPlatform"`
	ConnectionDefinitionID ID         `bson:"connectionDefinitionId" json:"connectionDefinitionId"`
	PlatformVersion        string     `bson:"platformVersion" json:"platformVersion"`
	Key                    string     `bson:"key" json:"key"`
}

// Knowledge is the catalog view of a model definition served from
// /v1/knowledge: the platform, the endpoint it documents and the prose that
// describes it. Backed by the connection-model-definitions collection.
type Knowledge struct {
	ID                 ID     `bson:"_id" json:"_id"`
	ConnectionPlatform string `bson:"connectionPlatform" json:"connectionPlatform"`
	Title              string `bson:"title" json:"title"`
	Path               string `bson:"path" json:"path"`
	Knowledge          string `bson:"knowledge,omitempty" json:"knowledge,omitempty"`

	RecordMetadata `bson:",inline"`
}

// ConnectionModelSchema maps a platform model onto a common model shape.
type ConnectionModelSchema struct {
	ID                     ID     `bson:"_id" json:"_id"`
	ConnectionPlatform     string `bson:"connectionPlatform" json:"connectionPlatform"`
	ConnectionDefinitionID ID     `bson:"connectionDefinitionId" json:"connectionDefinitionId"`
	PlatformVersion        string `bson:"platformVersion" json:"platformVersion"`
	ModelName              string `bson:"modelName" json:"modelName"`
	Mapping                map[string]any `bson:"mapping,omitempty" json:"mapping,omitempty"`

	RecordMetadata `bson:",inline"`
}
