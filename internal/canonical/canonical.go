// Package canonical produces the byte-exact string form of a progress log and
// the Keccak-256 digests that are anchored on the ledger.
//
// The canonical string is
//
//	case_id|log_id|description|time_spent|timestamp
//
// where timestamp is rendered in UTC without a zone designator and always with
// microsecond precision (2006-01-02T15:04:05.000000). Identifiers and the
// numeric fields never contain "|", so the description is recoverable as
// everything between the second and the second-to-last separator.
package canonical

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// TimestampLayout is the fixed-precision, zone-less layout used in canonical strings.
const TimestampLayout = "2006-01-02T15:04:05.000000"

const sep = "|"

// Record holds the fields that make up a canonical log string.
type Record struct {
	CaseID      string
	LogID       string
	Description string
	TimeSpent   int
	Timestamp   time.Time
}

// FormatTimestamp renders t in UTC with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Normalize truncates t to the precision kept by canonical strings.
// Timestamps must be normalised before they are persisted, otherwise the
// stored value and the hashed value can differ.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Encode returns the canonical string for r. It is pure: equal records always
// produce identical strings.
func Encode(r Record) string {
	var b strings.Builder
	b.WriteString(r.CaseID)
	b.WriteString(sep)
	b.WriteString(r.LogID)
	b.WriteString(sep)
	b.WriteString(r.Description)
	b.WriteString(sep)
	b.WriteString(strconv.Itoa(r.TimeSpent))
	b.WriteString(sep)
	b.WriteString(FormatTimestamp(r.Timestamp))
	return b.String()
}

// Decode parses a canonical string back into a Record.
func Decode(s string) (Record, error) {
	head := strings.SplitN(s, sep, 3)
	if len(head) != 3 {
		return Record{}, fmt.Errorf("canonical string has too few fields")
	}
	rest := head[2]
	last := strings.LastIndex(rest, sep)
	if last < 0 {
		return Record{}, fmt.Errorf("canonical string has too few fields")
	}
	ts, err := time.Parse(TimestampLayout, rest[last+1:])
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp: %w", err)
	}
	rest = rest[:last]
	mid := strings.LastIndex(rest, sep)
	if mid < 0 {
		return Record{}, fmt.Errorf("canonical string has too few fields")
	}
	minutes, err := strconv.Atoi(rest[mid+1:])
	if err != nil {
		return Record{}, fmt.Errorf("parse time_spent: %w", err)
	}
	return Record{
		CaseID:      head[0],
		LogID:       head[1],
		Description: rest[:mid],
		TimeSpent:   minutes,
		Timestamp:   ts,
	}, nil
}

// Digest is a Keccak-256 hash.
type Digest [32]byte

// Hex returns the lowercase hex encoding of d without a 0x prefix.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex digest, accepting an optional 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Sum returns the Keccak-256 digest of data.
func Sum(data []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(d[:0])
	return d
}

// HashLog returns the digest of the canonical string of r.
func HashLog(r Record) Digest {
	return Sum([]byte(Encode(r)))
}

// Aggregate hashes the concatenation of the given digests in order.
func Aggregate(digests []Digest) Digest {
	buf := make([]byte, 0, len(digests)*len(Digest{}))
	for _, d := range digests {
		buf = append(buf, d[:]...)
	}
	return Sum(buf)
}

// StatusDigest is the value posted to a ledger's status channel for a
// status transition.
func StatusDigest(status, actor string, ts time.Time) Digest {
	return Sum([]byte(status + sep + actor + sep + FormatTimestamp(ts)))
}

// PartyDigest hashes a party identifier for registration on a case ledger.
func PartyDigest(id string) Digest {
	return Sum([]byte(id))
}
