package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nullsync/toska/internal/logging"
)

// SyncMode controls when AOFManager fsyncs the underlying file (spec.md §4.2).
type SyncMode string

const (
	SyncAlways   SyncMode = "always"
	SyncInterval SyncMode = "interval"
	SyncNone     SyncMode = "none"
)

// AOFManager appends canonical-JSON records to an append-only log and
// replays them on startup. Adapted from the teacher's AOFManager: same
// open/close/buffered-writer shape, swapping the pipe-delimited line
// format for one canonical JSON record per line.
type AOFManager struct {
	path     string
	syncMode SyncMode

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64
}

// NewAOFManager creates a manager for the AOF file at path.
func NewAOFManager(path string, syncMode SyncMode) *AOFManager {
	return &AOFManager{path: path, syncMode: syncMode}
}

// Open opens (creating if absent) the AOF file for appending.
func (a *AOFManager) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open AOF file: %w", err)
	}

	a.file = file
	a.writer = bufio.NewWriterSize(file, 64*1024)

	if info, err := file.Stat(); err == nil {
		a.size = info.Size()
	}

	return nil
}

// Close flushes and closes the AOF file.
func (a *AOFManager) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *AOFManager) closeLocked() error {
	if a.writer != nil {
		a.writer.Flush()
		a.writer = nil
	}
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// Size returns the current AOF file size in bytes.
func (a *AOFManager) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Append writes record as one canonical JSON line, stamping its checksum
// first. A write failure is returned to the caller, which logs it and
// keeps its in-memory state; the next call writes its own record anew.
func (a *AOFManager) Append(record Record) error {
	record.V = schemaVersion

	sum, err := checksumOf(record)
	if err != nil {
		return fmt.Errorf("compute checksum: %w", err)
	}
	record.Checksum = sum

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.writer == nil {
		return fmt.Errorf("AOF not open")
	}

	if _, err := a.writer.Write(line); err != nil {
		return fmt.Errorf("write AOF record: %w", err)
	}
	if err := a.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write AOF newline: %w", err)
	}
	a.size += int64(len(line)) + 1

	switch a.syncMode {
	case SyncAlways:
		if err := a.writer.Flush(); err != nil {
			return fmt.Errorf("flush AOF: %w", err)
		}
		if err := a.file.Sync(); err != nil {
			return fmt.Errorf("sync AOF: %w", err)
		}
	default:
		// interval/none: rely on FlushInterval or the OS buffer.
	}

	return nil
}

// FlushInterval flushes buffered writes and, in the `interval` sync mode,
// fsyncs the file; the `interval` sync mode's timer calls this at the
// chosen cadence. In other modes it only flushes.
func (a *AOFManager) FlushInterval() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writer == nil {
		return nil
	}
	if err := a.writer.Flush(); err != nil {
		return err
	}
	if a.syncMode == SyncInterval && a.file != nil {
		return a.file.Sync()
	}
	return nil
}

// Replay reads every line of the AOF, applies the rule "set, then a later
// del for the same key yields the delete", and returns only the
// surviving records in their original relative order, skipping records
// with a bad checksum or a decode error (a warning, never fatal) and
// discarding records whose TTL has already elapsed by now.
func (a *AOFManager) Replay(ctx context.Context, now time.Time) ([]Record, error) {
	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open AOF for replay: %w", err)
	}
	defer file.Close()

	order := make([]string, 0)
	latest := make(map[string]Record)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			logging.Warn(ctx, logging.ComponentAOF, "replay", "skipping undecodable AOF line",
				map[string]interface{}{"line": lineNum, "error": err.Error()})
			continue
		}

		want := record.Checksum
		if sum, err := checksumOf(record); err != nil || sum != want {
			logging.Warn(ctx, logging.ComponentAOF, "replay", "skipping AOF record with invalid checksum",
				map[string]interface{}{"line": lineNum, "key": record.Key})
			continue
		}

		if record.Op == OpSet && record.ExpiresAt > 0 && record.ExpiresAt <= now.UnixMilli() {
			// Expired by the time we replay; equivalent to never having set it.
			delete(latest, record.Key)
			continue
		}

		if _, seen := latest[record.Key]; !seen {
			order = append(order, record.Key)
		}
		latest[record.Key] = record
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read AOF: %w", err)
	}

	applied := make([]Record, 0, len(order))
	for _, key := range order {
		r, ok := latest[key]
		if !ok {
			continue
		}
		applied = append(applied, r)
		delete(latest, key)
	}
	return applied, nil
}

// Path returns the AOF's on-disk path, used by the leader's range endpoint
// to open independent read handles.
func (a *AOFManager) Path() string {
	return a.path
}

// ReadRange returns up to maxBytes bytes starting at byte offset since.
// The writer's buffer is flushed first so readers observe recently
// appended data.
func (a *AOFManager) ReadRange(since, maxBytes int64) ([]byte, error) {
	a.mu.Lock()
	if a.writer != nil {
		a.writer.Flush()
	}
	a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open AOF for range read: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(since, 0); err != nil {
		return nil, fmt.Errorf("seek AOF: %w", err)
	}

	buf := make([]byte, maxBytes)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read AOF range: %w", err)
	}
	return buf[:n], nil
}

// Truncate closes, reopens the file at length zero, and reopens it for
// appending. Called by the coordinator immediately after a successful
// snapshot commit.
func (a *AOFManager) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closeLocked(); err != nil {
		return fmt.Errorf("close AOF before truncate: %w", err)
	}

	file, err := os.Create(a.path)
	if err != nil {
		return fmt.Errorf("truncate AOF: %w", err)
	}
	file.Close()

	file, err = os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen AOF after truncate: %w", err)
	}
	a.file = file
	a.writer = bufio.NewWriterSize(file, 64*1024)
	a.size = 0

	return nil
}
