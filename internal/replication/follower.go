package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nullsync/toska/internal/logging"
	"github.com/nullsync/toska/internal/persistence"
	"github.com/nullsync/toska/internal/storage"
)

// State is a follower's position in its bootstrap/tail state machine
// (spec.md §4.7).
type State string

const (
	StateBootstrapping State = "BOOTSTRAPPING"
	StateTailing       State = "TAILING"
	StateError         State = "ERROR"
)

// Status is the follower's externally-visible state, served at
// /replication/status.
type Status struct {
	State     State  `json:"state"`
	Offset    int64  `json:"offset"`
	LastError string `json:"last_error,omitempty"`
}

// Follower bootstraps from a leader's snapshot, then tails its AOF by
// byte offset on a timer-driven poll loop. Grounded in the teacher's
// NodeCommunicator.sendHTTPRequest: a plain http.Client with an explicit
// timeout, no retry/backoff framework layered on top.
type Follower struct {
	leaderURL    string
	pollInterval time.Duration
	offsetPath   string
	coord        *storage.Coordinator
	client       *http.Client

	mu      sync.RWMutex
	state   State
	offset  int64
	lastErr string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFollower creates a follower targeting leaderURL. If a persisted
// offset file already exists in dataDir, the follower starts in TAILING
// directly (spec.md §4.7); otherwise it starts BOOTSTRAPPING.
func NewFollower(coord *storage.Coordinator, leaderURL, dataDir string, pollInterval, httpTimeout time.Duration) *Follower {
	f := &Follower{
		leaderURL:    strings.TrimSuffix(leaderURL, "/"),
		pollInterval: pollInterval,
		offsetPath:   filepath.Join(dataDir, "replica.offset"),
		coord:        coord,
		client:       &http.Client{Timeout: httpTimeout},
		state:        StateBootstrapping,
		stop:         make(chan struct{}),
	}

	if offset, err := f.loadOffset(); err == nil {
		f.offset = offset
		f.state = StateTailing
	}

	return f
}

// Start runs the poll loop until Stop is called.
func (f *Follower) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.tick(ctx)
			case <-f.stop:
				return
			}
		}
	}()
}

// Stop halts the poll loop.
func (f *Follower) Stop() {
	close(f.stop)
	f.wg.Wait()
}

// Status returns the follower's current externally-visible state.
func (f *Follower) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{State: f.state, Offset: f.offset, LastError: f.lastErr}
}

func (f *Follower) tick(ctx context.Context) {
	f.mu.RLock()
	state := f.state
	f.mu.RUnlock()

	if state == StateBootstrapping || state == StateError {
		f.bootstrap(ctx)
		return
	}
	f.poll(ctx)
}

func (f *Follower) bootstrap(ctx context.Context) {
	resp, err := f.client.Get(f.leaderURL + "/replication/snapshot")
	if err != nil {
		f.setError(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.setError(fmt.Errorf("snapshot fetch returned status %d", resp.StatusCode))
		return
	}

	var snap persistence.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		f.setError(err)
		return
	}

	if err := f.coord.ReplaceSnapshot(&snap); err != nil {
		f.setError(err)
		return
	}

	f.setTailing(0)
}

func (f *Follower) poll(ctx context.Context) {
	f.mu.RLock()
	offset := f.offset
	f.mu.RUnlock()

	url := fmt.Sprintf("%s/replication/aof?since=%d&max_bytes=65536", f.leaderURL, offset)
	resp, err := f.client.Get(url)
	if err != nil {
		f.setError(err)
		return
	}
	defer resp.Body.Close()

	aofSize := parseAOFSize(resp.Header.Get("x-toska-aof-size"))

	if aofSize < offset {
		logging.Warn(ctx, logging.ComponentReplication, "poll", "leader AOF shrank, re-bootstrapping",
			map[string]interface{}{"offset": offset, "aof_size": aofSize})
		f.mu.Lock()
		f.state = StateBootstrapping
		f.mu.Unlock()
		return
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		f.setTailing(maxInt64(offset, aofSize))
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			f.setError(err)
			return
		}
		records := decodeRecords(body)
		if err := f.coord.ApplyReplication(records); err != nil {
			f.setError(err)
			return
		}
		f.setTailing(maxInt64(offset+int64(len(body)), aofSize))
	default:
		f.setError(fmt.Errorf("AOF range fetch returned status %d", resp.StatusCode))
	}
}

func decodeRecords(body []byte) []persistence.Record {
	lines := bytes.Split(body, []byte("\n"))
	records := make([]persistence.Record, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r persistence.Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records
}

func (f *Follower) setTailing(offset int64) {
	f.mu.Lock()
	f.state = StateTailing
	f.offset = offset
	f.lastErr = ""
	f.mu.Unlock()
	f.persistOffset(offset)
}

func (f *Follower) setError(err error) {
	f.mu.Lock()
	f.state = StateError
	f.lastErr = err.Error()
	f.mu.Unlock()
}

func (f *Follower) persistOffset(offset int64) {
	data := []byte(strconv.FormatInt(offset, 10))
	if err := os.WriteFile(f.offsetPath, data, 0644); err != nil {
		logging.Warn(context.Background(), logging.ComponentReplication, "persist_offset", "failed to persist replica offset", nil)
	}
}

func (f *Follower) loadOffset() (int64, error) {
	data, err := os.ReadFile(f.offsetPath)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func parseAOFSize(header string) int64 {
	if header == "" {
		return 0
	}
	v, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
