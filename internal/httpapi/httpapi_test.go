package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nullsync/toska/internal/configcache"
	"github.com/nullsync/toska/internal/middleware"
	"github.com/nullsync/toska/internal/persistence"
	"github.com/nullsync/toska/internal/replication"
	"github.com/nullsync/toska/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	coord := storage.New(storage.Config{
		NodeID:           "test-node",
		DataDir:          dir,
		SyncMode:         persistence.SyncAlways,
		TTLCheckInterval: time.Hour,
		ExpectedItems:    1000,
	})
	if err := coord.Boot(context.Background()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(func() { coord.Shutdown() })

	access := middleware.New(configcache.New(configcache.Snapshot{}))
	leader := replication.NewLeader(coord)
	return New(coord, leader, nil, access)
}

func TestHandleKeyRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	putBody, _ := json.Marshal(map[string]interface{}{"value": "bar"})
	putReq := httptest.NewRequest(http.MethodPut, "/kv/foo", bytes.NewReader(putBody))
	putRec := httptest.NewRecorder()
	handler.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT expected 200, got %d: %s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/kv/foo", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET expected 200, got %d", getRec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["value"] != "bar" {
		t.Fatalf("expected value %q, got %q", "bar", got["value"])
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/kv/foo", nil)
	delRec := httptest.NewRecorder()
	handler.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusOK {
		t.Fatalf("DELETE expected 200, got %d", delRec.Code)
	}

	getAfterDelete := httptest.NewRequest(http.MethodGet, "/kv/foo", nil)
	getAfterDeleteRec := httptest.NewRecorder()
	handler.ServeHTTP(getAfterDeleteRec, getAfterDelete)
	if getAfterDeleteRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getAfterDeleteRec.Code)
	}
}

func TestHandleKeyRejectsNonStringValue(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	body, _ := json.Marshal(map[string]interface{}{"value": 42})
	req := httptest.NewRequest(http.MethodPut, "/kv/foo", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMGet(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	putBody, _ := json.Marshal(map[string]interface{}{"value": "1"})
	req := httptest.NewRequest(http.MethodPut, "/kv/a", bytes.NewReader(putBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	mgetBody, _ := json.Marshal(map[string]interface{}{"keys": []string{"a", "missing"}})
	mgetReq := httptest.NewRequest(http.MethodPost, "/kv/mget", bytes.NewReader(mgetBody))
	mgetRec := httptest.NewRecorder()
	handler.ServeHTTP(mgetRec, mgetReq)

	if mgetRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", mgetRec.Code)
	}
	var got struct {
		Values map[string]interface{} `json:"values"`
	}
	if err := json.Unmarshal(mgetRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Values["a"] != "1" {
		t.Fatalf("expected a=1, got %v", got.Values["a"])
	}
	if got.Values["missing"] != nil {
		t.Fatalf("expected missing=nil, got %v", got.Values["missing"])
	}
}

func TestHandleListKeysRejectsInvalidLimit(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/kv/keys?limit=not-a-number", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleStatsReturnsOK(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleReplicationStatusWithoutFollowerIs404(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/replication/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
