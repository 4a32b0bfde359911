// Package records keeps tenant records and their vectors in step.
//
// The CRUD layer persists records itself and then calls the Service hooks;
// this package never writes relational data.
package records

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/embeddings"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// Attribute is one free-form key/value text attribute of an entity.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is an entity or knowledge chunk owned by a namespace.
type Record struct {
	ID             string           `json:"id"`
	Namespace      string           `json:"namespace"`
	Name           string           `json:"name"`
	Kind           vectorstore.Kind `json:"kind"`
	Type           string           `json:"type,omitempty"`
	Description    string           `json:"description,omitempty"`
	Attributes     []Attribute      `json:"attributes,omitempty"`
	Content        string           `json:"content,omitempty"`
	VectorIdentity string           `json:"vector_identity,omitempty"`
	CreatedAt      time.Time        `json:"created_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at,omitempty"`
}

// EmbeddingText renders the text a record is embedded from, capped at
// maxChars runes.
//
// Entities render as labelled lines followed by attributes in insertion
// order; knowledge chunks render as name then content.
func EmbeddingText(r Record, maxChars int) string {
	var b strings.Builder
	line := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if label != "" {
			b.WriteString(label)
			b.WriteString(": ")
		}
		b.WriteString(value)
	}

	if r.Kind == vectorstore.KindKnowledge {
		line("", r.Name)
		if content := strings.TrimSpace(r.Content); content != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(content)
		}
		return embeddings.PrepareText(b.String(), maxChars)
	}

	line("Name", r.Name)
	line("Type", r.Type)
	line("Description", r.Description)
	for _, attr := range r.Attributes {
		if key := strings.TrimSpace(attr.Key); key != "" {
			line(key, attr.Value)
		}
	}
	line("", r.Content)
	return embeddings.PrepareText(b.String(), maxChars)
}
