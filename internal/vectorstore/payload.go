package vectorstore

import (
	"fmt"
	"strconv"
	"time"
)

// Payload keys stored alongside every point.
const (
	KeyStableID  = "stable_id"
	KeyNamespace = "namespace"
	KeyKind      = "kind"
	KeyName      = "name"
	KeyContent   = "content"
	KeyUpdatedAt = "updated_at"
)

// Kind distinguishes structured entities from free-form knowledge chunks.
type Kind string

const (
	KindEntity    Kind = "entity"
	KindKnowledge Kind = "knowledge"
)

// Payload is the typed form of a point payload. StableID is the only
// required field: it round-trips the caller's domain identifier back
// from the numeric point ID.
type Payload struct {
	StableID  string
	Namespace string
	Kind      Kind
	Name      string
	Content   string
	UpdatedAt time.Time
}

// Map renders the payload for an Index write. Empty optional fields are omitted.
func (p Payload) Map() map[string]interface{} {
	m := map[string]interface{}{KeyStableID: p.StableID}
	if p.Namespace != "" {
		m[KeyNamespace] = p.Namespace
	}
	if p.Kind != "" {
		m[KeyKind] = string(p.Kind)
	}
	if p.Name != "" {
		m[KeyName] = p.Name
	}
	if p.Content != "" {
		m[KeyContent] = p.Content
	}
	if !p.UpdatedAt.IsZero() {
		m[KeyUpdatedAt] = p.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// ParsePayload validates a raw payload read back from an Index.
func ParsePayload(m map[string]interface{}) (Payload, error) {
	if len(m) == 0 {
		return Payload{}, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	id, ok := m[KeyStableID].(string)
	if !ok || id == "" {
		return Payload{}, fmt.Errorf("%w: missing %s", ErrInvalidPayload, KeyStableID)
	}

	p := Payload{
		StableID:  id,
		Namespace: stringField(m, KeyNamespace),
		Kind:      Kind(stringField(m, KeyKind)),
		Name:      stringField(m, KeyName),
		Content:   stringField(m, KeyContent),
	}
	if ts := stringField(m, KeyUpdatedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.UpdatedAt = t
		}
	}
	return p, nil
}

// stringField tolerates non-string scalars written by other tools.
func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
