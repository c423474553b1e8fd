// internal/configstore/store.go
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/model"

	apperrors "document-eligibility/internal/common/errors"
)

const (
	getQuery = `SELECT data_extraction_config FROM master_template_definition
		WHERE template_id = $1 AND active = true`

	listQuery = `SELECT template_id FROM master_template_definition
		WHERE active = true ORDER BY template_id`
)

type cached struct {
	cfg     *model.ExtractionConfig
	expires time.Time
}

// Store reads extraction configurations from the template table and keeps
// the parsed form for ttl.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	log logger.Logger
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cached
}

func New(db *sql.DB, ttl time.Duration, log logger.Logger) *Store {
	return &Store{
		db:    db,
		ttl:   ttl,
		log:   log.WithFields(map[string]interface{}{"component": "configstore"}),
		now:   time.Now,
		cache: make(map[string]cached),
	}
}

// Get returns the prepared configuration of an active template.
func (s *Store) Get(ctx context.Context, templateID string) (*model.ExtractionConfig, error) {
	if cfg, ok := s.cached(templateID); ok {
		return cfg, nil
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, getQuery, templateID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewConfigNotFoundError(templateID)
	}
	if err != nil {
		s.log.Error("Failed to load configuration", map[string]interface{}{
			"templateId": templateID,
			"error":      err.Error(),
		})
		return nil, apperrors.NewConfigStoreFailedError(err)
	}

	cfg, err := model.Parse(raw)
	if err != nil {
		s.log.Error("Stored configuration is invalid", map[string]interface{}{
			"templateId": templateID,
			"error":      err.Error(),
		})
		return nil, apperrors.NewConfigurationError(err).WithMetadata("templateId", templateID)
	}

	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[templateID] = cached{cfg: cfg, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
	}
	return cfg, nil
}

func (s *Store) cached(templateID string) (*model.ExtractionConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cache[templateID]
	if !ok || !s.now().Before(c.expires) {
		return nil, false
	}
	return c.cfg, true
}

// List returns the ids of every active template.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, apperrors.NewConfigStoreFailedError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewConfigStoreFailedError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewConfigStoreFailedError(err)
	}
	return ids, nil
}

// Invalidate drops the parsed copy so the next Get reads the table.
func (s *Store) Invalidate(templateID string) {
	s.mu.Lock()
	delete(s.cache, templateID)
	s.mu.Unlock()
}
