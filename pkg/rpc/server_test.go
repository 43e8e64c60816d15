package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novaex/novaex/pkg/engine"
	"github.com/novaex/novaex/pkg/kv"
)

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}
func (m *memStore) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}
func (m *memStore) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	m.values[key] = value
	return nil
}
func (m *memStore) Del(_ context.Context, _ string) error                          { return nil }
func (m *memStore) Keys(_ context.Context, _ string) ([]string, error)             { return nil, nil }
func (m *memStore) LPush(_ context.Context, _, _ string) error                     { return nil }
func (m *memStore) LTrim(_ context.Context, _ string, _, _ int64) error            { return nil }
func (m *memStore) LRange(_ context.Context, _ string, _, _ int64) ([]string, error) {
	return nil, nil
}
func (m *memStore) HGetAll(_ context.Context, _ string) (map[string]string, error) {
	return nil, nil
}
func (m *memStore) UpdateCandle(_ context.Context, _ string, _, _ uint64, _ int64) error {
	return nil
}
func (m *memStore) SaveSnapshot(_ context.Context, symbol, data string) error {
	m.values[kv.SnapshotPrefix+symbol] = data
	return nil
}
func (m *memStore) LoadSnapshot(_ context.Context, symbol string) (string, bool, error) {
	return m.Get(context.Background(), kv.SnapshotPrefix+symbol)
}

var _ kv.Store = (*memStore)(nil)

func newTestServer(t *testing.T) (*Server, *engine.Core, *memStore) {
	t.Helper()
	core := engine.NewCore(engine.Listener{})
	store := &memStore{values: make(map[string]string)}
	s := NewServer(core, store, prometheus.NewRegistry(), zap.NewNop().Sugar())
	return s, core, store
}

func seed(t *testing.T, core *engine.Core) {
	t.Helper()
	require.NoError(t, core.AddOrder(&engine.Order{
		ID: "B1", UserID: "u1", Symbol: "NVA", Side: engine.Buy, Price: 100, Qty: 5, Timestamp: 1,
	}))
	require.NoError(t, core.AddOrder(&engine.Order{
		ID: "A1", UserID: "u2", Symbol: "NVA", Side: engine.Sell, Price: 101, Qty: 3, Timestamp: 2,
	}))
}

func TestHealthCheck(t *testing.T) {
	s, core, _ := newTestServer(t)
	seed(t, core)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, 1, resp.SymbolCount)
	assert.Equal(t, uint64(2), resp.OrdersProcessed)
}

func TestCreateSnapshot(t *testing.T) {
	s, core, store := newTestServer(t)
	seed(t, core)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/v1/snapshots/NVA", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Data, `"v":1`)

	// snapshot also lands in the cache with its timestamp-free key
	assert.Contains(t, store.values, kv.SnapshotPrefix+"NVA")
}

func TestRestoreSnapshotFromBody(t *testing.T) {
	s, core, _ := newTestServer(t)
	seed(t, core)

	data, err := core.SnapshotOrderBook("NVA")
	require.NoError(t, err)
	require.True(t, core.RemoveOrderBook("NVA"))

	body, _ := json.Marshal(restoreRequest{Data: data})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/v1/snapshots/NVA/restore", strings.NewReader(string(body))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, core.GetOrderCount("NVA"))
}

func TestRestoreSnapshotFallsBackToCache(t *testing.T) {
	s, core, store := newTestServer(t)
	seed(t, core)

	data, err := core.SnapshotOrderBook("NVA")
	require.NoError(t, err)
	store.values[kv.SnapshotPrefix+"NVA"] = data
	require.True(t, core.RemoveOrderBook("NVA"))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/v1/snapshots/NVA/restore", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, core.GetOrderCount("NVA"))
}

func TestRestoreSnapshotMissing(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/v1/snapshots/GHOST/restore", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveOrderBook(t *testing.T) {
	s, core, _ := newTestServer(t)
	seed(t, core)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/orderbooks/NVA", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp removeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, core.GetSymbolCount())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
