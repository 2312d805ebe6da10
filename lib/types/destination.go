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

// PassthroughAction forwards the caller's request to the upstream with
// minimal transformation. When ID is set, model definition resolution is
// pinned to that definition id instead of the (platform, path, method)
// lookup.
type PassthroughAction struct {
	Path   string
	Method string
	ID     string
}

// UnifiedAction maps a common-model operation onto a per-platform endpoint.
type UnifiedAction struct {
	Model  string
	Action CrudAction
}

// Action is a closed sum: exactly one of the variants is set.
type Action struct {
	Passthrough *PassthroughAction
	Unified     *UnifiedAction
}

// Destination addresses one upstream call.
type Destination struct {
	Platform      string
	ConnectionKey string
	Action        Action
}
