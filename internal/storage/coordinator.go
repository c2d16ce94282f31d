package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nullsync/toska/internal/apierrors"
	"github.com/nullsync/toska/internal/codec"
	"github.com/nullsync/toska/internal/logging"
	"github.com/nullsync/toska/internal/persistence"
)

// Config configures a Coordinator's data directory layout and timer
// cadences (spec.md §6.3).
type Config struct {
	NodeID             string
	DataDir            string
	AOFFile            string
	SnapshotFile       string
	SyncMode           persistence.SyncMode
	SyncInterval       time.Duration
	SnapshotInterval   time.Duration
	TTLCheckInterval   time.Duration
	CompactionInterval time.Duration
	CompactionAOFBytes int64
	ExpectedItems      uint64
}

// Coordinator is the single writer (C5): every mutation flows through its
// command channel in FIFO order so that AOF order matches index order,
// the same discipline the teacher enforces with BasicStore's write mutex,
// generalized here to a channel so timer-driven actions (snapshot, TTL
// sweep, compaction) interleave deterministically with client writes. The
// interval-mode sync timer calls the AOF manager directly, which
// serializes its flush with appends under its own lock.
type Coordinator struct {
	cfg Config
	idx *Index
	aof *persistence.AOFManager
	sm  *persistence.SnapshotManager

	cmds chan command

	mu                   sync.RWMutex
	lastSnapshotChecksum string
	lastSnapshotAt       time.Time
	snapshotVersion      int
	aofVersion           int
	running              bool

	stopTimers chan struct{}
	timersWG   sync.WaitGroup
}

type commandKind int

const (
	cmdPut commandKind = iota
	cmdDelete
	cmdSnapshot
	cmdCompact
	cmdReplaceSnapshot
	cmdApplyReplication
	cmdSweepExpired
)

type command struct {
	kind     commandKind
	key      string
	value    string
	ttlRaw   interface{}
	payload  *persistence.Snapshot
	records  []persistence.Record
	resultCh chan commandResult
}

type commandResult struct {
	err error
}

// New creates a Coordinator; call Boot before use.
func New(cfg Config) *Coordinator {
	if cfg.AOFFile == "" {
		cfg.AOFFile = "toska.aof"
	}
	if cfg.SnapshotFile == "" {
		cfg.SnapshotFile = "toska_snapshot.json"
	}
	if cfg.ExpectedItems == 0 {
		cfg.ExpectedItems = 100000
	}

	aofPath := filepath.Join(cfg.DataDir, cfg.AOFFile)
	snapPath := filepath.Join(cfg.DataDir, cfg.SnapshotFile)

	return &Coordinator{
		cfg:        cfg,
		idx:        NewIndex(cfg.ExpectedItems),
		aof:        persistence.NewAOFManager(aofPath, cfg.SyncMode),
		sm:         persistence.NewSnapshotManager(snapPath),
		cmds:       make(chan command, 256),
		stopTimers: make(chan struct{}),
	}
}

// Index exposes the read path (C4), which bypasses the coordinator.
func (c *Coordinator) Index() *Index { return c.idx }

// Boot runs the initialization order from spec.md §4.5: load snapshot,
// replay AOF (superseding snapshot state), open AOF for append, schedule
// timers.
func (c *Coordinator) Boot(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	now := time.Now()
	entries, found, err := c.sm.Load(ctx, now)
	if err != nil {
		if persistence.IsChecksumMismatch(err) {
			logging.Warn(ctx, logging.ComponentSnapshot, "boot", "snapshot checksum mismatch, skipping", nil)
		} else {
			logging.Warn(ctx, logging.ComponentSnapshot, "boot", "snapshot load failed, continuing with empty index",
				map[string]interface{}{"error": err.Error()})
		}
	} else if found {
		for key, entry := range entries {
			c.idx.Put(key, entry.Value, entry.ExpiresAt)
		}
	}

	records, err := c.aof.Replay(ctx, now)
	if err != nil {
		return fmt.Errorf("replay AOF: %w", err)
	}
	for _, r := range records {
		switch r.Op {
		case persistence.OpSet:
			c.idx.Put(r.Key, r.Value, r.ExpiresAt)
		case persistence.OpDel:
			c.idx.Delete(r.Key)
		}
	}

	if err := c.aof.Open(); err != nil {
		return fmt.Errorf("open AOF: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	go c.run()
	c.scheduleTimers()

	return nil
}

// Shutdown flushes and closes the AOF and stops timers. No snapshot is
// written automatically.
func (c *Coordinator) Shutdown() error {
	close(c.stopTimers)
	c.timersWG.Wait()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return c.aof.Close()
}

func (c *Coordinator) run() {
	for cmd := range c.cmds {
		err := c.dispatch(cmd)
		if cmd.resultCh != nil {
			cmd.resultCh <- commandResult{err: err}
		}
	}
}

func (c *Coordinator) submit(cmd command) error {
	cmd.resultCh = make(chan commandResult, 1)
	c.cmds <- cmd
	res := <-cmd.resultCh
	return res.err
}

func (c *Coordinator) dispatch(cmd command) error {
	switch cmd.kind {
	case cmdPut:
		return c.doPut(cmd.key, cmd.value, cmd.ttlRaw)
	case cmdDelete:
		return c.doDelete(cmd.key)
	case cmdSnapshot:
		return c.doSnapshot(context.Background())
	case cmdCompact:
		return c.doSnapshot(context.Background())
	case cmdReplaceSnapshot:
		return c.doReplaceSnapshot(context.Background(), cmd.payload)
	case cmdApplyReplication:
		return c.doApplyReplication(context.Background(), cmd.records)
	case cmdSweepExpired:
		c.idx.SweepExpired()
		return nil
	default:
		return fmt.Errorf("unknown command kind %d", cmd.kind)
	}
}

// Put normalizes ttlRaw per spec.md §4.5 and applies the mutation.
func (c *Coordinator) Put(key, value string, ttlRaw interface{}) error {
	return c.submit(command{kind: cmdPut, key: key, value: value, ttlRaw: ttlRaw})
}

// Delete removes key, appending a del record.
func (c *Coordinator) Delete(key string) error {
	return c.submit(command{kind: cmdDelete, key: key})
}

// Snapshot writes a snapshot then truncates the AOF.
func (c *Coordinator) Snapshot() error {
	return c.submit(command{kind: cmdSnapshot})
}

// Compact performs the same sequence as Snapshot. The compaction timer
// calls it on each tick when CompactionAOFBytes is zero, and otherwise
// only on ticks where the AOF has reached that size; the AOF size is not
// checked between ticks.
func (c *Coordinator) Compact() error {
	return c.submit(command{kind: cmdCompact})
}

// ReplaceSnapshot validates and installs payload as the new index state,
// used by the replication follower during bootstrap.
func (c *Coordinator) ReplaceSnapshot(payload *persistence.Snapshot) error {
	return c.submit(command{kind: cmdReplaceSnapshot, payload: payload})
}

// ApplyReplication applies a batch of records tailed from the leader AOF.
func (c *Coordinator) ApplyReplication(records []persistence.Record) error {
	return c.submit(command{kind: cmdApplyReplication, records: records})
}

func (c *Coordinator) doPut(key, value string, ttlRaw interface{}) error {
	expiresAt, deleteInstead, ok := normalizeTTL(ttlRaw)
	if !ok {
		expiresAt = 0
	}

	if deleteInstead {
		c.idx.Delete(key)
		return c.appendRecord(persistence.Record{Op: persistence.OpDel, Key: key})
	}

	c.idx.Put(key, value, expiresAt)
	return c.appendRecord(persistence.Record{Op: persistence.OpSet, Key: key, Value: value, ExpiresAt: expiresAt})
}

func (c *Coordinator) doDelete(key string) error {
	c.idx.Delete(key)
	return c.appendRecord(persistence.Record{Op: persistence.OpDel, Key: key})
}

func (c *Coordinator) appendRecord(r persistence.Record) error {
	if err := c.aof.Append(r); err != nil {
		logging.Warn(context.Background(), logging.ComponentAOF, "append", "AOF write failed, continuing with in-memory state",
			map[string]interface{}{"key": r.Key, "error": err.Error()})
	}
	return nil
}

func (c *Coordinator) doSnapshot(ctx context.Context) error {
	data := make(map[string]persistence.DataEntry)
	for k, e := range c.idx.Snapshot() {
		data[k] = persistence.DataEntry{Value: e.Value, ExpiresAt: e.ExpiresAt}
	}

	if err := c.sm.Write(ctx, c.cfg.NodeID, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	sum, _ := codec.ChecksumOf(data)

	if err := c.aof.Truncate(); err != nil {
		return fmt.Errorf("truncate AOF: %w", err)
	}

	c.mu.Lock()
	c.lastSnapshotChecksum = sum
	c.lastSnapshotAt = time.Now()
	c.snapshotVersion++
	c.aofVersion++
	c.mu.Unlock()

	return nil
}

func (c *Coordinator) doReplaceSnapshot(ctx context.Context, payload *persistence.Snapshot) error {
	if payload == nil || payload.Data == nil {
		return apierrors.New(apierrors.InvalidSnapshot, "snapshot payload missing data")
	}

	if payload.Checksum != "" {
		sum, err := codec.ChecksumOf(payload.Data)
		if err != nil {
			return apierrors.Wrap(apierrors.InvalidSnapshot, "failed to compute checksum", err)
		}
		if sum != payload.Checksum {
			return apierrors.New(apierrors.InvalidChecksum, "snapshot checksum mismatch")
		}
	}

	c.idx.Clear()
	now := time.Now().UnixMilli()
	for key, entry := range payload.Data {
		if entry.ExpiresAt > 0 && entry.ExpiresAt <= now {
			continue
		}
		c.idx.Put(key, entry.Value, entry.ExpiresAt)
	}

	return c.doSnapshot(ctx)
}

func (c *Coordinator) doApplyReplication(ctx context.Context, records []persistence.Record) error {
	for _, r := range records {
		if !persistence.VerifyChecksum(r) {
			logging.Warn(ctx, logging.ComponentReplication, "apply", "skipping record with invalid checksum",
				map[string]interface{}{"key": r.Key})
			continue
		}

		switch r.Op {
		case persistence.OpSet:
			c.idx.Put(r.Key, r.Value, r.ExpiresAt)
		case persistence.OpDel:
			c.idx.Delete(r.Key)
		default:
			continue
		}
		c.appendRecord(r)
	}
	return nil
}

// normalizeTTL implements spec.md §4.5: absent -> immortal; ttl <= 0 -> a
// delete instead of a set; ttl > 0 -> expires_at = now + ttl_ms; an
// invalid string behaves as absent.
func normalizeTTL(raw interface{}) (expiresAt int64, deleteInstead bool, ok bool) {
	if raw == nil {
		return 0, false, true
	}

	var ms int64
	switch v := raw.(type) {
	case float64:
		ms = int64(v)
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, true
		}
		ms = parsed
	default:
		return 0, false, true
	}

	if ms <= 0 {
		return 0, true, true
	}
	return time.Now().UnixMilli() + ms, false, true
}

// Stats reports counts, file sizes, and persistence settings (spec.md §4.5).
type Stats struct {
	Keys                 int       `json:"keys"`
	BytesUsed            int64     `json:"bytes_used"`
	AOFSizeBytes         int64     `json:"aof_size_bytes"`
	LastSnapshotChecksum string    `json:"last_snapshot_checksum,omitempty"`
	LastSnapshotAt       time.Time `json:"last_snapshot_at,omitempty"`
	SyncMode             string    `json:"sync_mode"`
	CompactionIntervalMS int64     `json:"compaction_interval_ms"`
	FilterLoadFactor     float64   `json:"filter_load_factor,omitempty"`
	FilterCapacity       uint64    `json:"filter_capacity,omitempty"`
	FilterFPP            float64   `json:"filter_false_positive_rate,omitempty"`
}

// Running reports whether Boot has completed and Shutdown has not yet
// been called.
func (c *Coordinator) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Stats returns a point-in-time view of store health; it does not go
// through the coordinator's write channel.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{
		Keys:                 c.idx.Len(),
		BytesUsed:            c.idx.BytesUsed(),
		AOFSizeBytes:         c.aof.Size(),
		LastSnapshotChecksum: c.lastSnapshotChecksum,
		LastSnapshotAt:       c.lastSnapshotAt,
		SyncMode:             string(c.cfg.SyncMode),
		CompactionIntervalMS: c.cfg.CompactionInterval.Milliseconds(),
	}
	if fs, ok := c.idx.FilterStats(); ok {
		stats.FilterLoadFactor = fs.LoadFactor
		stats.FilterCapacity = fs.Capacity
		stats.FilterFPP = fs.FalsePositiveRate
	}
	return stats
}

// ReplicationInfo reports the metadata leader HTTP endpoints advertise
// (spec.md §4.6).
type ReplicationInfo struct {
	NodeID           string `json:"node_id"`
	AOFSizeBytes     int64  `json:"aof_size_bytes"`
	AOFVersion       int    `json:"aof_version"`
	SnapshotVersion  int    `json:"snapshot_version"`
	SnapshotChecksum string `json:"snapshot_checksum,omitempty"`
}

func (c *Coordinator) ReplicationInfo() ReplicationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ReplicationInfo{
		NodeID:           c.cfg.NodeID,
		AOFSizeBytes:     c.aof.Size(),
		AOFVersion:       c.aofVersion,
		SnapshotVersion:  c.snapshotVersion,
		SnapshotChecksum: c.lastSnapshotChecksum,
	}
}

// AOFManager exposes the AOF manager for the leader's range endpoint (C6).
func (c *Coordinator) AOFManager() *persistence.AOFManager { return c.aof }

// SnapshotManager exposes the snapshot manager for the leader's snapshot
// endpoint (C6).
func (c *Coordinator) SnapshotManager() *persistence.SnapshotManager { return c.sm }

func (c *Coordinator) scheduleTimers() {
	if c.cfg.SyncMode == persistence.SyncInterval {
		interval := c.cfg.SyncInterval
		if interval <= 0 {
			interval = time.Second
		}
		c.startTimer(interval, func() {
			c.aof.FlushInterval()
		})
	}

	if c.cfg.SnapshotInterval > 0 {
		c.startTimer(c.cfg.SnapshotInterval, func() {
			if err := c.Snapshot(); err != nil {
				logging.Warn(context.Background(), logging.ComponentSnapshot, "timer", "periodic snapshot failed",
					map[string]interface{}{"error": err.Error()})
			}
		})
	}

	ttlInterval := c.cfg.TTLCheckInterval
	if ttlInterval <= 0 {
		ttlInterval = time.Second
	}
	c.startTimer(ttlInterval, func() {
		c.submit(command{kind: cmdSweepExpired})
	})

	if c.cfg.CompactionInterval > 0 {
		c.startTimer(c.cfg.CompactionInterval, func() {
			if c.cfg.CompactionAOFBytes > 0 && c.aof.Size() < c.cfg.CompactionAOFBytes {
				return
			}
			if err := c.Compact(); err != nil {
				logging.Warn(context.Background(), logging.ComponentStore, "timer", "periodic compaction failed",
					map[string]interface{}{"error": err.Error()})
			}
		})
	}
}

func (c *Coordinator) startTimer(interval time.Duration, fn func()) {
	c.timersWG.Add(1)
	go func() {
		defer c.timersWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-c.stopTimers:
				return
			}
		}
	}()
}
