package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filters is the raw, caller-supplied set of list parameters (filters, sort,
// pagination). Values may be strings, numbers, booleans, times or nil.
type Filters map[string]any

// JobFilterDefaults are substituted for missing job-list parameters before a
// key is derived, so an omitted value and its explicit default share a key.
var JobFilterDefaults = map[string]string{
	"status":    "all",
	"workType":  "all",
	"company":   "",
	"search":    "",
	"sortBy":    "createdAt",
	"sortOrder": "desc",
	"page":      "1",
	"limit":     "20",
}

// KeyBuilder derives every cache key used by the layer. It does no I/O.
type KeyBuilder struct {
	prefix   string
	defaults map[string]string
}

// NewKeyBuilder returns a builder namespacing keys under prefix and using
// JobFilterDefaults for normalization.
func NewKeyBuilder(prefix string) KeyBuilder {
	return KeyBuilder{prefix: prefix, defaults: JobFilterDefaults}
}

// WithDefaults returns a copy of the builder that normalizes against defaults.
func (k KeyBuilder) WithDefaults(defaults map[string]string) KeyBuilder {
	k.defaults = defaults
	return k
}

// Prefix returns the namespace prefix.
func (k KeyBuilder) Prefix() string { return k.prefix }

// Normalize fills defaults for missing or empty parameters and renders every
// value as a string. Numbers and their decimal strings normalize identically.
func (k KeyBuilder) Normalize(f Filters) map[string]string {
	out := make(map[string]string, len(k.defaults)+len(f))
	for name, def := range k.defaults {
		out[name] = def
	}
	for name, v := range f {
		s, ok := stringify(v)
		if !ok {
			continue
		}
		out[name] = s
	}
	return out
}

// Hash returns the digest of the normalized parameter set. encoding/json
// writes map keys in sorted order, which makes the serialization canonical.
func (k KeyBuilder) Hash(f Filters) string {
	b, _ := json.Marshal(k.Normalize(f))
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// hashLen is the length of a rendered Hash.
const hashLen = 32

// JobList is the key of one cached job-list page: {prefix}jobs:{<user>}:<hash>.
// The braces delimit the user id, so one user's keys never extend another's.
func (k KeyBuilder) JobList(userID string, f Filters) string {
	return k.userJobs(userID) + k.Hash(f)
}

// JobListPattern matches every job-list key of userID for SCAN MATCH. The
// hash part is matched by length, which keeps an id containing "}:" from
// reaching into another user's keys.
func (k KeyBuilder) JobListPattern(userID string) string {
	return escapeGlob(k.userJobs(userID)) + strings.Repeat("?", hashLen)
}

func (k KeyBuilder) userJobs(userID string) string {
	return k.prefix + "jobs:{" + userID + "}:"
}

// JobListPatternAll matches job-list keys of all users.
func (k KeyBuilder) JobListPatternAll() string {
	return escapeGlob(k.prefix+"jobs:") + "*"
}

// Job is the key of a single cached job detail.
func (k KeyBuilder) Job(jobID string) string {
	return k.prefix + "job:" + jobID
}

// Message is the key of one cached chat message record.
func (k KeyBuilder) Message(messageID string) string {
	return k.prefix + "chat:msg:" + messageID
}

// GroupWindow is the key of a group's hot window (sorted set). The group id
// is a hash tag so the window and count keys share a cluster slot and can be
// touched by one script.
func (k KeyBuilder) GroupWindow(groupID string) string {
	return k.prefix + "chat:group:{" + groupID + "}:hot"
}

// GroupCount is the key of a group's cached message count.
func (k KeyBuilder) GroupCount(groupID string) string {
	return k.prefix + "chat:group:{" + groupID + "}:count"
}

func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case *string:
		if x == nil {
			return "", false
		}
		return stringify(*x)
	case time.Time:
		if x.IsZero() {
			return "", false
		}
		return x.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		if x == nil {
			return "", false
		}
		return stringify(*x)
	case fmt.Stringer:
		return stringify(x.String())
	default:
		return fmt.Sprint(x), true
	}
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
