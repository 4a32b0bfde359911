// Package tenant reads per-tenant persona, knowledge namespace and moderation
// settings. Tenant data is owned by the dashboard; this package only reads it.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/fyrsmithlabs/lorekeeper/internal/sanitize"
)

// Common errors.
var (
	ErrNotFound        = errors.New("tenant not found")
	ErrInvalidTenantID = errors.New("invalid tenant ID")
)

// Config is the read-only view of a tenant needed for one chat turn.
type Config struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Persona string `json:"persona,omitempty"`

	// Namespace is the knowledge collection. Empty means the derived
	// default, see ResolveNamespace.
	Namespace string `json:"namespace,omitempty"`
}

// Store looks up tenant configuration.
type Store interface {
	// GetConfig returns ErrNotFound for unknown tenants.
	GetConfig(ctx context.Context, tenantID string) (*Config, error)

	// GetModerationSettings returns (nil, nil) when the tenant has none.
	GetModerationSettings(ctx context.Context, tenantID string) (*moderation.Settings, error)
}

// ValidateTenantID rejects empty or whitespace-padded identifiers.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" || strings.TrimSpace(tenantID) != tenantID {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return nil
}

// ResolveNamespace returns the configured namespace when set, otherwise
// bot_<tenant>_knowledge.
func ResolveNamespace(cfg *Config) (string, error) {
	if cfg == nil {
		return "", ErrNotFound
	}
	if cfg.Namespace != "" {
		if err := sanitize.ValidateNamespace(cfg.Namespace); err != nil {
			return "", err
		}
		return cfg.Namespace, nil
	}
	return sanitize.KnowledgeNamespace(cfg.ID)
}
