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

package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// HTTPExtractor executes upstream calls directly: the definition's base URL
// plus path, the caller's query and body, and a bearer token from the
// decrypted secret when one is present.
type HTTPExtractor struct {
	client *http.Client
}

// NewHTTPExtractor builds the extractor with the given upstream timeout.
func NewHTTPExtractor(timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExtractor) Execute(ctx context.Context, req *Request) (*Response, error) {
	// A caller-resolved path, id substitutions included, wins over the
	// definition's template.
	path := req.Definition.Path
	if req.Path != "" {
		path = req.Path
	}
	url := strings.TrimSuffix(req.Definition.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(req.Query) > 0 {
		url += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Definition.Action), url, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for name, values := range req.Headers {
		for _, value := range values {
			upstream.Header.Add(name, value)
		}
	}
	if token, ok := req.Secret["accessToken"].(string); ok && token != "" {
		upstream.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(upstream)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "upstream request failed")
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading upstream response failed")
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       payload,
	}, nil
}
