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

// Package template renders OAuth definitions against caller-supplied
// payloads. Definitions marked full-template are serialized, rendered as
// one template and deserialized back, so any field can reference payload
// values.
package template

import (
	"encoding/json"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/gravitational/trace"

	"github.com/picahq/pica/lib/types"
)

// Engine renders templates with the sprig function set.
type Engine struct {
	funcs texttemplate.FuncMap
}

// NewEngine builds the engine.
func NewEngine() *Engine {
	return &Engine{funcs: sprig.FuncMap()}
}

// Render executes text as a template against data. Unknown keys fail the
// render rather than producing empty substitutions.
func (e *Engine) Render(text string, data any) (string, error) {
	tmpl, err := texttemplate.New("oauth").
		Funcs(e.funcs).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", trace.BadParameter("malformed template: %v", err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", trace.BadParameter("template render failed: %v", err)
	}
	return out.String(), nil
}

// RenderDefinition substitutes payload values through the whole definition.
// Definitions without full templating are returned unchanged.
func (e *Engine) RenderDefinition(def *types.ConnectionOAuthDefinition, payload map[string]any) (*types.ConnectionOAuthDefinition, error) {
	if !def.IsFullTemplateEnabled {
		return def, nil
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rendered, err := e.Render(string(raw), payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out types.ConnectionOAuthDefinition
	if err := json.Unmarshal([]byte(rendered), &out); err != nil {
		return nil, trace.BadParameter("rendered definition is not valid JSON: %v", err)
	}
	return &out, nil
}
