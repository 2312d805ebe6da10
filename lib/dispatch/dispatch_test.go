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
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/secrets"
	"github.com/picahq/pica/lib/types"
	"github.com/picahq/pica/lib/utils"
)

type fakeExtractor struct {
	calls    atomic.Int64
	lastReq  *Request
	response *Response
}

func (f *fakeExtractor) Execute(ctx context.Context, req *Request) (*Response, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.response != nil {
		return f.response, nil
	}
	return &Response{StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{}`)}, nil
}

func newTestDispatcher(t *testing.T, extractor Extractor) (*Dispatcher, *mongostore.MemoryCollection[types.ConnectionModelDefinition], *secrets.Service) {
	t.Helper()

	// The sparse store reads the full definition collection through the
	// projection type.
	defColl := mongostore.NewMemoryCollection[types.ConnectionModelDefinition]()
	sparse := mongostore.NewStore[types.SparseCMD](sparseView{defColl})

	enc, err := secrets.NewLocalKMS([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	secretSvc, err := secrets.NewService(mongostore.NewStore[secrets.Record](mongostore.NewMemoryCollection[secrets.Record]()), enc)
	require.NoError(t, err)

	keyCache, err := utils.NewFnCache[*types.SparseCMD](utils.FnCacheConfig{TTL: time.Minute, Size: 100})
	require.NoError(t, err)
	idCache, err := utils.NewFnCache[*types.SparseCMD](utils.FnCacheConfig{TTL: time.Minute, Size: 100})
	require.NoError(t, err)

	dispatcher, err := NewDispatcher(Config{
		Definitions: sparse,
		KeyCache:    keyCache,
		IDCache:     idCache,
		Secrets:     secretSvc,
		Extractor:   extractor,
	})
	require.NoError(t, err)
	return dispatcher, defColl, secretSvc
}

// sparseView adapts the full definition collection to the sparse store
// type, mirroring what the Mongo projection does in production.
type sparseView struct {
	full *mongostore.MemoryCollection[types.ConnectionModelDefinition]
}

func (v sparseView) FindOne(ctx context.Context, filter bson.M, opts mongostore.FindOpts) (*types.SparseCMD, error) {
	defs, err := v.Find(ctx, filter, mongostore.FindOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, trace.NotFound("document not found")
	}
	return &defs[0], nil
}

func (v sparseView) Find(ctx context.Context, filter bson.M, opts mongostore.FindOpts) ([]types.SparseCMD, error) {
	full, err := v.full.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]types.SparseCMD, 0, len(full))
	for _, def := range full {
		out = append(out, types.SparseCMD{
			ID:                     def.ID,
			Title:                  def.Title,
			Name:                   def.Name,
			Path:                   def.Path,
			BaseURL:                def.BaseURL,
			Action:                 def.Action,
			ActionName:             def.ActionName,
			ConnectionPlatform:     def.ConnectionPlatform,
			ConnectionDefinitionID: def.ConnectionDefinitionID,
			PlatformVersion:        def.PlatformVersion,
			Key:                    def.Key,
		})
	}
	return out, nil
}

func (v sparseView) Count(ctx context.Context, filter bson.M) (int64, error) {
	return v.full.Count(ctx, filter)
}

func (v sparseView) InsertOne(ctx context.Context, doc *types.SparseCMD) error {
	return trace.NotImplemented("read-only view")
}

func (v sparseView) InsertMany(ctx context.Context, docs []types.SparseCMD) error {
	return trace.NotImplemented("read-only view")
}

func (v sparseView) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) (int64, error) {
	return 0, trace.NotImplemented("read-only view")
}

func (v sparseView) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	return 0, trace.NotImplemented("read-only view")
}

func seedDefinition(t *testing.T, coll *mongostore.MemoryCollection[types.ConnectionModelDefinition]) types.ConnectionModelDefinition {
	t.Helper()
	def := types.ConnectionModelDefinition{
		ID:                 types.NewID(types.IDPrefixModelDef, time.Now()),
		ConnectionPlatform: "stripe",
		PlatformVersion:    "v1",
		BaseURL:            "https://api.stripe.com",
		Path:               "/v1/customers",
		Action:             "GET",
		ActionName:         types.ActionGetMany,
		Key:                "api::stripe::v1::customers::getMany",
		RecordMetadata:     types.NewRecordMetadata(time.Now()),
	}
	require.NoError(t, coll.InsertOne(context.Background(), &def))
	return def
}

func testConn(secretID string) *types.Connection {
	return &types.Connection{
		ID:               types.NewID(types.IDPrefixConnection, time.Now()),
		Key:              "test::stripe::default::abc",
		Platform:         "stripe",
		Environment:      types.EnvironmentTest,
		SecretsServiceID: secretID,
		Ownership:        types.Ownership{ID: "build-1", ClientID: "client-1"},
		RecordMetadata:   types.NewRecordMetadata(time.Now()),
	}
}

func TestDispatchResolvesByKey(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{}
	dispatcher, defColl, secretSvc := newTestDispatcher(t, extractor)
	def := seedDefinition(t, defColl)

	record, err := secretSvc.Create(ctx, "build-1", map[string]any{"accessToken": "tok"}, time.Now())
	require.NoError(t, err)
	conn := testConn(record.ID.String())

	dest := types.Destination{
		Platform:      "stripe",
		ConnectionKey: conn.Key,
		Action: types.Action{
			Passthrough: &types.PassthroughAction{Path: "/v1/customers", Method: "get"},
		},
	}
	resp, resolved, err := dispatcher.Dispatch(ctx, conn, dest, http.Header{}, nil, nil)
	require.NoError(t, err)
	require.True(t, resp.Succeeded())
	require.Equal(t, def.ID, resolved.ID)
	require.Equal(t, "tok", extractor.lastReq.Secret["accessToken"])
}

func TestDispatchPinnedByID(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{}
	dispatcher, defColl, _ := newTestDispatcher(t, extractor)
	def := seedDefinition(t, defColl)

	dest := types.Destination{
		Platform:      "stripe",
		ConnectionKey: "test::stripe::default::abc",
		Action: types.Action{
			// Path and method deliberately wrong: the id wins.
			Passthrough: &types.PassthroughAction{Path: "/bogus", Method: "delete", ID: def.ID.String()},
		},
	}
	resolved, err := dispatcher.Resolve(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, def.ID, resolved.ID)
}

func TestDispatchUnknownDefinition(t *testing.T) {
	ctx := context.Background()
	dispatcher, _, _ := newTestDispatcher(t, &fakeExtractor{})

	_, err := dispatcher.Resolve(ctx, types.Destination{
		Platform: "stripe",
		Action: types.Action{
			Passthrough: &types.PassthroughAction{Path: "/nope", Method: "GET"},
		},
	})
	require.True(t, trace.IsNotFound(err))
}

func TestDispatchCachesDefinition(t *testing.T) {
	ctx := context.Background()
	dispatcher, defColl, _ := newTestDispatcher(t, &fakeExtractor{})
	seedDefinition(t, defColl)

	dest := types.Destination{
		Platform: "stripe",
		Action: types.Action{
			Passthrough: &types.PassthroughAction{Path: "/v1/customers", Method: "GET"},
		},
	}
	first, err := dispatcher.Resolve(ctx, dest)
	require.NoError(t, err)

	// Remove the backing document; the cache still serves the definition.
	_, err = defColl.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{"path": "/moved"}})
	require.NoError(t, err)

	second, err := dispatcher.Resolve(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "/v1/customers", second.Path)
}

func TestDispatchUnified(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{}
	dispatcher, defColl, secretSvc := newTestDispatcher(t, extractor)
	def := types.ConnectionModelDefinition{
		ID:                 types.NewID(types.IDPrefixModelDef, time.Now()),
		ConnectionPlatform: "stripe",
		PlatformVersion:    "v1",
		BaseURL:            "https://api.stripe.com",
		Path:               "/v1/customers/{id}",
		Action:             "GET",
		ActionName:         types.ActionGetOne,
		ModelName:          "customers",
		Key:                "api::stripe::v1::customers::getOne",
		RecordMetadata:     types.NewRecordMetadata(time.Now()),
	}
	require.NoError(t, defColl.InsertOne(ctx, &def))

	record, err := secretSvc.Create(ctx, "build-1", map[string]any{"accessToken": "tok"}, time.Now())
	require.NoError(t, err)
	conn := testConn(record.ID.String())

	resp, resolved, err := dispatcher.DispatchUnified(ctx, conn, "customers", types.ActionGetOne, "cus_42", http.Header{}, nil, nil)
	require.NoError(t, err)
	require.True(t, resp.Succeeded())
	require.Equal(t, def.ID, resolved.ID)
	require.Equal(t, "/v1/customers/cus_42", extractor.lastReq.Path)

	// An unimplemented action is a not-found, not a server error.
	_, _, err = dispatcher.DispatchUnified(ctx, conn, "customers", types.ActionDelete, "cus_42", http.Header{}, nil, nil)
	require.True(t, trace.IsNotFound(err))
}

func TestHTTPExtractor(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"cus_1"}`))
	}))
	defer srv.Close()

	extractor := NewHTTPExtractor(5 * time.Second)
	resp, err := extractor.Execute(context.Background(), &Request{
		Definition: &types.SparseCMD{BaseURL: srv.URL, Path: "/v1/customers", Action: "POST"},
		Query:      map[string][]string{"limit": {"3"}},
		Headers:    http.Header{},
		Secret:     map[string]any{"accessToken": "tok"},
		Body:       []byte(`{"name":"acme"}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "/v1/customers", gotPath)
	require.Equal(t, "limit=3", gotQuery)
	require.JSONEq(t, `{"id":"cus_1"}`, string(resp.Body))
}
