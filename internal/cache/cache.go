// Package cache is the content-addressable store of finished synthesis
// results, keyed by a fingerprint of (normalized text, voice). It is what
// keeps repeated narration of static content from hitting the vendor twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/voicelane/narrator/pkg/alignment"
)

// ErrAlreadyExists is returned by Insert when an entry for the fingerprint
// is already present. Callers racing to populate the same fingerprint must
// treat it as success: the winning entry is authoritative.
var ErrAlreadyExists = errors.New("cache entry already exists")

// Entry is one cached synthesis result.
type Entry struct {
	Fingerprint string
	VoiceID     string
	Text        string
	AudioURL    string
	Alignment   []alignment.Word
	Precise     bool
	ContextID   string
	CreatedAt   time.Time
}

// Store is the cache contract. Lookup returns (nil, nil) on a miss.
// Insert returns ErrAlreadyExists when another writer won the race.
type Store interface {
	Lookup(ctx context.Context, fingerprint string) (*Entry, error)
	Insert(ctx context.Context, entry Entry) error
}

// Fingerprint derives the cache key: hex SHA-256 over the normalized text
// and the voice id. Normalization collapses whitespace runs so that
// rewrapped copies of the same passage share a key.
func Fingerprint(text, voiceID string) string {
	normalized := strings.Join(strings.Fields(text), " ")

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(voiceID))
	return hex.EncodeToString(h.Sum(nil))
}
