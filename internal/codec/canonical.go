// Package codec implements the canonical-JSON form and checksums that
// AOF records and snapshots are built on.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// pair is a single key/value entry in a canonicalized object, encoded as a
// two-element JSON array so that key ordering survives re-marshaling.
type pair [2]interface{}

// Canonicalize converts an arbitrary JSON-shaped value (as produced by
// json.Unmarshal into interface{}, or hand-built maps/slices/scalars) into a
// deterministic form: object keys are sorted and objects are represented as
// ordered [key, value] pairs rather than Go maps, whose iteration order is
// not part of their contract.
func Canonicalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]pair, 0, len(v))
		for _, k := range keys {
			pairs = append(pairs, pair{k, Canonicalize(v[k])})
		}
		return pairs
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = Canonicalize(elem)
		}
		return out
	default:
		return v
	}
}

// Marshal canonicalizes value and encodes it with the standard encoder,
// which never emits whitespace or indentation for compact input.
func Marshal(value interface{}) ([]byte, error) {
	return json.Marshal(Canonicalize(value))
}

// Checksum returns the lowercase hex SHA-256 of the canonical JSON encoding
// of value.
func Checksum(value interface{}) (string, error) {
	data, err := Marshal(value)
	if err != nil {
		return "", fmt.Errorf("canonicalize for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ToGenericValue round-trips v through JSON so that struct fields become a
// plain map[string]interface{}/[]interface{} tree suitable for Canonicalize.
// This is how checksums are computed over structs without hand-writing a
// canonicalization for every record type.
func ToGenericValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for checksum: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal for checksum: %w", err)
	}
	return generic, nil
}

// ChecksumOf is a convenience wrapper that round-trips v through JSON (see
// ToGenericValue) and returns its checksum.
func ChecksumOf(v interface{}) (string, error) {
	generic, err := ToGenericValue(v)
	if err != nil {
		return "", err
	}
	return Checksum(generic)
}
