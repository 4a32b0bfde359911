// Package sanitize normalizes and validates tenant namespaces used as
// vector collection names.
//
// Qdrant and chromem both accept collection names matching ^[a-z0-9_-]{1,64}$
// here; anything else is rejected with ErrInvalidNamespace before it reaches
// the store.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum collection name length.
	MaxIdentifierLength = 64

	// HashSuffixLength is len("_") plus 8 hex characters.
	HashSuffixLength = 9

	// KnowledgeSuffix names the per-tenant knowledge collection.
	KnowledgeSuffix = "knowledge"
)

// ErrInvalidNamespace is returned for empty or malformed namespaces.
var ErrInvalidNamespace = errors.New("invalid namespace")

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateNamespace checks that ns can be used verbatim as a collection name.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidNamespace, ns, namespacePattern.String())
	}
	return nil
}

// Identifier lowercases s, maps anything outside [a-z0-9_] to underscores,
// collapses runs and trims. Over-long results are truncated with a hash
// suffix so distinct inputs stay distinct. Returns "" when nothing survives.
//
//	"Bot 42!"        -> "bot_42"
//	"github.com/x"   -> "github_com_x"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized, s)
	}
	return sanitized
}

// KnowledgeNamespace derives the default knowledge namespace for a tenant
// that has none configured: bot_<tenant>_knowledge.
func KnowledgeNamespace(tenantID string) (string, error) {
	id := Identifier(tenantID)
	if id == "" {
		return "", fmt.Errorf("%w: tenant %q yields an empty identifier", ErrInvalidNamespace, tenantID)
	}
	name := "bot_" + id + "_" + KnowledgeSuffix
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name, tenantID)
	}
	return name, nil
}

// truncateWithHash cuts s to fit MaxIdentifierLength and appends a hash of
// the original input.
func truncateWithHash(s, original string) string {
	sum := sha256.Sum256([]byte(original))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:MaxIdentifierLength-HashSuffixLength], "_")
	return base + suffix
}
