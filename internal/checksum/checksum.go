// Package checksum holds the pure content-digest and record-stream helpers
// shared by the catalog and the integrity verifier.
package checksum

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Digest returns the lowercase hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DigestReader computes the digest of a stream without buffering it whole.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("digest stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Aggregate combines per-item checksums into the backup-level checksum.
// Checksums are concatenated in item-name order so the result does not
// depend on completion order.
func Aggregate(byName map[string]string) string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(byName[name])
	}
	return Digest(buf.Bytes())
}

// CountRecords parses a JSON Lines payload and returns the record count.
// Every non-empty line must be a single JSON object; anything else fails
// the format contract.
func CountRecords(content []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rec); err != nil {
			return 0, fmt.Errorf("line %d: not a JSON object: %w", line, err)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}
	return count, nil
}
