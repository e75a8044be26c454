package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Adjectives and Nouns feed the agent name generator. Names are memorable
// two-word combinations (BlueLake, RedStone), never descriptive of the
// agent's task.
var (
	Adjectives = []string{
		"Red", "Orange", "Pink", "Black", "Purple", "Blue",
		"Brown", "White", "Green", "Chartreuse", "Lilac", "Fuchsia",
	}
	Nouns = []string{
		"Stone", "Lake", "Dog", "Creek", "Pond", "Cat",
		"Bear", "Mountain", "Hill", "Snow", "Castle",
	}
)

// Slug derives the stable directory-safe identifier for a project key:
// the sanitized key truncated to 40 characters plus a 10-hex-digit SHA-1
// suffix. The same humanKey always yields the same slug.
func Slug(humanKey string) string {
	sanitized := sanitizeSlug(humanKey)
	if len(sanitized) > 40 {
		sanitized = strings.Trim(sanitized[:40], "-")
	}
	sum := sha1.Sum([]byte(humanKey))
	return sanitized + "-" + hex.EncodeToString(sum[:])[:10]
}

// sanitizeSlug maps characters outside [A-Za-z0-9._-] to '-', collapses
// dash runs, and trims leading/trailing dashes. Empty input becomes
// "project".
func sanitizeSlug(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	lastDash := false
	for _, r := range strings.TrimSpace(value) {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
		if ok && r != '-' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "project"
	}
	return out
}

// SanitizeAgentName normalizes a caller-supplied name hint to alphanumerics,
// at most 40 characters. Returns "" if nothing remains.
func SanitizeAgentName(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// GenerateAgentName picks a free adjective+noun name. taken reports whether
// a candidate is already used in the project (case rules are the caller's).
// After a bounded number of random tries it falls back to appending a
// monotonically increasing numeric suffix, so it always terminates.
func GenerateAgentName(taken func(string) bool) string {
	var candidate string
	for i := 0; i < 16; i++ {
		candidate = Adjectives[rand.Intn(len(Adjectives))] + Nouns[rand.Intn(len(Nouns))]
		if !taken(candidate) {
			return candidate
		}
	}
	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", candidate, i)
		if !taken(suffixed) {
			return suffixed
		}
	}
}

// NewMessageID mints a time-prefixed opaque message id: msg_YYYYMMDD_<8 hex>.
func NewMessageID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("msg_%s_%s", now.UTC().Format("20060102"), hex.EncodeToString(u[:4]))
}

// NewClaimID mints an opaque claim id.
func NewClaimID() string {
	return "claim_" + uuid.NewString()
}
