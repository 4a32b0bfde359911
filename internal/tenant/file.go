package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	maxTenantFileSize = 4 * 1024 * 1024

	// reloadDelay coalesces the burst of events one save produces.
	reloadDelay = 100 * time.Millisecond
)

// fileTenant is one entry under the top-level "tenants" key:
//
//	tenants:
//	  "42":
//	    name: Brim
//	    persona: You are Brim, the ferryman of the Ashen River.
//	    namespace: bot_42_knowledge
//	    moderation:
//	      enabled: true
//	      toxicity_threshold: 0.7
type fileTenant struct {
	Name       string               `koanf:"name"`
	Persona    string               `koanf:"persona"`
	Namespace  string               `koanf:"namespace"`
	Moderation *moderation.Settings `koanf:"moderation"`
}

// FileStore serves tenants from a YAML file. Watch keeps it in sync with
// the file; without it the first snapshot is served until Reload.
type FileStore struct {
	path   string
	logger *logging.Logger

	mu      sync.RWMutex
	tenants map[string]fileTenant
	watcher *fsnotify.Watcher
}

// NewFileStore loads path once and fails on any parse or validation error.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &FileStore{path: filepath.Clean(path), logger: logger.Named("tenant")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file unconditionally. On error the previous snapshot
// stays in place.
func (s *FileStore) Reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat tenant file: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("tenant file is empty")
	}
	if info.Size() > maxTenantFileSize {
		return fmt.Errorf("tenant file too large: %d bytes (max %d)", info.Size(), maxTenantFileSize)
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read tenant file: %w", err)
	}

	tenants, err := parseTenants(content)
	if err != nil {
		return fmt.Errorf("parse tenant file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.tenants = tenants
	s.mu.Unlock()
	return nil
}

// Watch reloads the store whenever the tenant file changes, until ctx is done
// or Close is called. The parent directory is watched so editors that replace
// the file and Kubernetes ConfigMap symlink swaps are both seen.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating tenant file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = watcher.Close()
		return errors.New("tenant file is already watched")
	}
	s.watcher = watcher
	s.mu.Unlock()

	go s.processEvents(ctx, watcher)
	return nil
}

// Close stops the watcher, if any.
func (s *FileStore) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (s *FileStore) processEvents(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()

	settle := time.NewTimer(reloadDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if s.affects(event) {
				settle.Reset(reloadDelay)
			}
		case <-settle.C:
			s.refresh(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "tenant file watcher error", zap.Error(err))
		}
	}
}

// affects reports whether event may have changed the file's content. A
// ConfigMap update renames the "..data" symlink rather than touching the file.
func (s *FileStore) affects(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == s.path || filepath.Base(name) == "..data"
}

func parseTenants(content []byte) (map[string]fileTenant, error) {
	// Tenant IDs may contain dots, so the key path delimiter must not.
	k := koanf.New("/")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, err
	}
	tenants := map[string]fileTenant{}
	if err := k.Unmarshal("tenants", &tenants); err != nil {
		return nil, err
	}
	for id, t := range tenants {
		if err := ValidateTenantID(id); err != nil {
			return nil, err
		}
		if t.Moderation != nil {
			if err := t.Moderation.Validate(); err != nil {
				return nil, fmt.Errorf("tenant %s moderation: %w", id, err)
			}
		}
	}
	return tenants, nil
}

// refresh reloads after a change event. A failed reload keeps the last good
// snapshot.
func (s *FileStore) refresh(ctx context.Context) {
	if err := s.Reload(); err != nil {
		s.logger.Warn(ctx, "tenant file reload failed, serving cached tenants", zap.Error(err))
		return
	}
	s.logger.Info(ctx, "tenant file reloaded", zap.String("path", s.path))
}

func (s *FileStore) lookup(tenantID string) (fileTenant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	return t, ok
}

// GetConfig implements Store.
func (s *FileStore) GetConfig(_ context.Context, tenantID string) (*Config, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	t, ok := s.lookup(tenantID)
	if !ok {
		return nil, ErrNotFound
	}
	return &Config{ID: tenantID, Name: t.Name, Persona: t.Persona, Namespace: t.Namespace}, nil
}

// GetModerationSettings implements Store.
func (s *FileStore) GetModerationSettings(_ context.Context, tenantID string) (*moderation.Settings, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	t, ok := s.lookup(tenantID)
	if !ok || t.Moderation == nil {
		return nil, nil
	}
	settings := *t.Moderation
	return &settings, nil
}
