// Package httpapi wires the KV, stats, and replication HTTP routes
// (spec.md §6.1) onto a net/http.ServeMux, in the teacher's
// cmd/hypercache/main.go style: handlers close over the components they
// need rather than sitting behind an interface or router framework.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nullsync/toska/internal/apierrors"
	"github.com/nullsync/toska/internal/logging"
	"github.com/nullsync/toska/internal/middleware"
	"github.com/nullsync/toska/internal/replication"
	"github.com/nullsync/toska/internal/storage"
)

const defaultListKeysLimit = 1000

// Server holds the dependencies the HTTP handlers close over.
type Server struct {
	coord    *storage.Coordinator
	leader   *replication.Leader
	follower *replication.Follower
	access   *middleware.AccessControl
}

// New builds a Server. follower may be nil on a node running without a
// replica URL configured.
func New(coord *storage.Coordinator, leader *replication.Leader, follower *replication.Follower, access *middleware.AccessControl) *Server {
	return &Server{coord: coord, leader: leader, follower: follower, access: access}
}

// Handler builds the full mux: correlation logging wraps everything,
// access control wraps only the KV and stats routes (spec.md §4.8).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	kv := http.NewServeMux()
	kv.HandleFunc("/kv/mget", s.handleMGet)
	kv.HandleFunc("/kv/keys", s.handleListKeys)
	kv.HandleFunc("/kv/", s.handleKey)
	mux.Handle("/kv/", s.access.Wrap(kv))

	mux.Handle("/stats", s.access.Wrap(http.HandlerFunc(s.handleStats)))

	mux.HandleFunc("/replication/info", s.handleReplicationInfo)
	mux.HandleFunc("/replication/snapshot", s.handleReplicationSnapshot)
	mux.HandleFunc("/replication/aof", s.handleReplicationAOF)
	mux.HandleFunc("/replication/status", s.handleReplicationStatus)

	return logging.CorrelationMiddleware(mux)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/kv/"):]
	if key == "" {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.InvalidKey, "key is required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getKey(w, r, key)
	case http.MethodPut:
		s.putKey(w, r, key)
	case http.MethodDelete:
		s.deleteKey(w, r, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request, key string) {
	value, ok := s.coord.Index().Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, apierrors.New(apierrors.NotFound, "key not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (s *Server) putKey(w http.ResponseWriter, r *http.Request, key string) {
	var body struct {
		Value interface{} `json:"value"`
		TTLMS interface{} `json:"ttl_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apierrors.Wrap(apierrors.InvalidPayload, "invalid JSON body", err))
		return
	}

	value, ok := body.Value.(string)
	if !ok {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.InvalidPayload, "value is required and must be a string"))
		return
	}

	if err := s.coord.Put(key, value, body.TTLMS); err != nil {
		writeErrFromKind(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "key": key})
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.coord.Delete(key); err != nil {
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "key": key})
}

func (s *Server) handleMGet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apierrors.Wrap(apierrors.InvalidKeys, "invalid JSON body", err))
		return
	}
	if body.Keys == nil {
		writeError(w, http.StatusBadRequest, apierrors.New(apierrors.InvalidKeys, "keys must be a list"))
		return
	}

	found := s.coord.Index().MGet(body.Keys)
	values := make(map[string]interface{}, len(body.Keys))
	for _, k := range body.Keys {
		if v, ok := found[k]; ok {
			values[k] = v
		} else {
			values[k] = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"values": values})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit := defaultListKeysLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, apierrors.New(apierrors.InvalidPrefix, "invalid limit"))
			return
		}
		limit = parsed
	}

	keys := s.coord.Index().ListKeys(prefix, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.coord.Running() {
		writeError(w, http.StatusServiceUnavailable, apierrors.New(apierrors.NotRunning, "store is not running"))
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Stats())
}

func (s *Server) handleReplicationInfo(w http.ResponseWriter, r *http.Request) {
	s.leader.InfoHandler(w, r)
}

func (s *Server) handleReplicationSnapshot(w http.ResponseWriter, r *http.Request) {
	s.leader.SnapshotHandler(w, r)
}

func (s *Server) handleReplicationAOF(w http.ResponseWriter, r *http.Request) {
	s.leader.AOFRangeHandler(w, r)
}

func (s *Server) handleReplicationStatus(w http.ResponseWriter, r *http.Request) {
	if s.follower == nil {
		writeError(w, http.StatusNotFound, apierrors.New(apierrors.NotFound, "no follower configured on this node"))
		return
	}
	writeJSON(w, http.StatusOK, s.follower.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeErrFromKind maps an apierrors.Kind to the status table in
// spec.md §6.1/§7.
func writeErrFromKind(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apierrors.Is(err, apierrors.NotFound):
		status = http.StatusNotFound
	case apierrors.Is(err, apierrors.NotRunning):
		status = http.StatusServiceUnavailable
	case apierrors.Is(err, apierrors.InvalidKey),
		apierrors.Is(err, apierrors.InvalidPayload),
		apierrors.Is(err, apierrors.InvalidKeys),
		apierrors.Is(err, apierrors.InvalidPrefix),
		apierrors.Is(err, apierrors.InvalidSnapshot),
		apierrors.Is(err, apierrors.InvalidChecksum),
		apierrors.Is(err, apierrors.InvalidReplicationRecord),
		apierrors.Is(err, apierrors.InvalidOffset):
		status = http.StatusBadRequest
	}
	writeError(w, status, err)
}
