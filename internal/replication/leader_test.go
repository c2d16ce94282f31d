package replication

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nullsync/toska/internal/persistence"
	"github.com/nullsync/toska/internal/storage"
)

func newTestCoordinator(t *testing.T) *storage.Coordinator {
	t.Helper()
	dir := t.TempDir()
	c := storage.New(storage.Config{
		NodeID:           "leader-node",
		DataDir:          dir,
		SyncMode:         persistence.SyncAlways,
		TTLCheckInterval: time.Hour,
		ExpectedItems:    1000,
	})
	if err := c.Boot(context.Background()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c
}

func TestLeaderInfoHandler(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.Put("a", "1", nil)
	leader := NewLeader(coord)

	req := httptest.NewRequest("GET", "/replication/info", nil)
	rec := httptest.NewRecorder()
	leader.InfoHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLeaderSnapshotHandlerSetsHeaders(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.Put("a", "1", nil)
	leader := NewLeader(coord)

	req := httptest.NewRequest("GET", "/replication/snapshot", nil)
	rec := httptest.NewRecorder()
	leader.SnapshotHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("x-toska-snapshot-checksum") == "" {
		t.Fatal("expected snapshot checksum header to be set")
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected snapshot body to be non-empty")
	}
}

func TestLeaderAOFRangeHandlerNoNewData(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.Put("a", "1", nil)
	leader := NewLeader(coord)
	size := coord.AOFManager().Size()

	req := httptest.NewRequest("GET", "/replication/aof?since="+strconv.FormatInt(size, 10), nil)
	rec := httptest.NewRecorder()
	leader.AOFRangeHandler(rec, req)

	if rec.Code != 204 {
		t.Fatalf("expected 204 no-new-data, got %d", rec.Code)
	}
}

func TestLeaderAOFRangeHandlerInvalidOffset(t *testing.T) {
	coord := newTestCoordinator(t)
	leader := NewLeader(coord)

	req := httptest.NewRequest("GET", "/replication/aof?since=-1", nil)
	rec := httptest.NewRecorder()
	leader.AOFRangeHandler(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for negative offset, got %d", rec.Code)
	}
}

func TestLeaderAOFRangeHandlerStreamsData(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.Put("a", "1", nil)
	leader := NewLeader(coord)

	req := httptest.NewRequest("GET", "/replication/aof?since=0", nil)
	rec := httptest.NewRecorder()
	leader.AOFRangeHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty AOF range body")
	}
	if rec.Header().Get("x-toska-aof-size") == "" {
		t.Fatal("expected x-toska-aof-size header")
	}
}
