package persistence

import "github.com/nullsync/toska/internal/codec"

// Record is a single AOF entry: a `set` carries Value/ExpiresAt, a `del`
// carries only Key. Checksum covers every other field (codec.ChecksumOf
// on the record with Checksum zeroed), mirroring the teacher's
// persistence.LogEntry JSON-tag discipline but in canonical-JSON form.
type Record struct {
	V         int    `json:"v"`
	Op        string `json:"op"`
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

const (
	OpSet = "set"
	OpDel = "del"

	// schemaVersion is the AOF record schema version (spec.md §3.1).
	schemaVersion = 1
)

// checksumOf computes the record's checksum per spec.md §4.1: the checksum
// field itself is excluded by zeroing it before hashing.
func checksumOf(r Record) (string, error) {
	r.Checksum = ""
	return codec.ChecksumOf(r)
}

// VerifyChecksum reports whether r's stored checksum matches its content.
// A record with no checksum at all (legacy bridge) is treated as valid.
func VerifyChecksum(r Record) bool {
	if r.Checksum == "" {
		return true
	}
	want := r.Checksum
	sum, err := checksumOf(r)
	return err == nil && sum == want
}
