// Package normalize turns connector output into persisted opportunities and
// owns the hashing rules used for deduplication.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/licita-cli/internal/model"
)

// NormalizeText lowercases s, strips accents and collapses whitespace.
// Characters outside ASCII after NFKD decomposition are dropped.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	ascii, _, err := transform.String(t, s)
	if err != nil {
		ascii = s
	}
	return strings.ToLower(strings.Join(strings.Fields(ascii), " "))
}

// DedupKey is the identity of a source record.
func DedupKey(source model.Source, externalID string) string {
	sum := sha256.Sum256([]byte(string(source) + ":" + externalID))
	return hex.EncodeToString(sum[:])
}

// ObjectHash fingerprints a title so the same notice published by two
// sources can be spotted.
func ObjectHash(title string) string {
	sum := sha256.Sum256([]byte(NormalizeText(title)))
	return hex.EncodeToString(sum[:])
}

// Truncate cuts s to at most limit runes. limit <= 0 leaves s untouched.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime reads the date formats the source APIs emit. Values without a
// zone are UTC. Blank or unparseable input is nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
