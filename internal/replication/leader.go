// Package replication implements the leader HTTP endpoints (C6) and the
// follower poll loop (C7) described in spec.md §4.6/§4.7. Handlers are
// thin wrappers over files the coordinator already manages, grounded in
// the teacher's handler style in cmd/hypercache/main.go and the JSON-over-
// HTTP framing of its node_communication.go.
package replication

import (
	"context"
	"net/http"
	"os"
	"strconv"

	"github.com/nullsync/toska/internal/logging"
	"github.com/nullsync/toska/internal/storage"
)

const defaultMaxRangeBytes = 1 << 20 // 1 MiB

// Leader exposes the replication endpoints a follower polls.
type Leader struct {
	coord *storage.Coordinator
}

// NewLeader wraps coord with the leader-side replication handlers.
func NewLeader(coord *storage.Coordinator) *Leader {
	return &Leader{coord: coord}
}

// SnapshotHandler triggers a snapshot write, then streams the resulting
// file verbatim with integrity headers (spec.md §4.6, §6.1).
func (l *Leader) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !l.coord.Running() {
		writeError(w, http.StatusServiceUnavailable, "store is not running")
		return
	}
	if err := l.coord.Snapshot(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to create snapshot")
		return
	}

	info := l.coord.ReplicationInfo()
	data, err := os.ReadFile(l.coord.SnapshotManager().Path())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable")
		return
	}

	w.Header().Set("x-toska-snapshot-checksum", info.SnapshotChecksum)
	w.Header().Set("x-toska-snapshot-version", strconv.Itoa(info.SnapshotVersion))
	w.Header().Set("x-toska-aof-version", strconv.Itoa(info.AOFVersion))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// InfoHandler returns the replication metadata structure.
func (l *Leader) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if !l.coord.Running() {
		writeError(w, http.StatusServiceUnavailable, "store is not running")
		return
	}
	writeJSON(w, http.StatusOK, l.coord.ReplicationInfo())
}

// AOFRangeHandler streams a byte range of the AOF file (spec.md §4.6).
func (l *Leader) AOFRangeHandler(w http.ResponseWriter, r *http.Request) {
	if !l.coord.Running() {
		writeError(w, http.StatusServiceUnavailable, "store is not running")
		return
	}
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		since = parsed
	}
	if since < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	maxBytes := int64(defaultMaxRangeBytes)
	if v := r.URL.Query().Get("max_bytes"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err == nil && parsed > 0 {
			maxBytes = parsed
		}
	}

	aofSize := l.coord.AOFManager().Size()
	w.Header().Set("x-toska-aof-size", strconv.FormatInt(aofSize, 10))

	if since >= aofSize {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	toRead := aofSize - since
	if toRead > maxBytes {
		toRead = maxBytes
	}

	data, err := l.coord.AOFManager().ReadRange(since, toRead)
	if err != nil {
		logging.Warn(context.Background(), logging.ComponentReplication, "aof_range", "failed to read AOF range", nil)
		writeError(w, http.StatusServiceUnavailable, "failed to read AOF range")
		return
	}

	w.Header().Set("x-toska-aof-offset", strconv.FormatInt(since, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
