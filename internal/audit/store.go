// Package audit persists the trail of remote operations started from the
// dashboard. It uses GORM on SQLite.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vesaa/nasdash/internal/models"
)

// DefaultLimit bounds Recent when no limit is given.
const DefaultLimit = 50

// Store is the audit trail.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens the database at path and runs AutoMigrate. ":memory:" gives a
// private in-memory database.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("audit: empty db_path")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&models.AuditRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	log.Info("audit store opened", zap.String("path", path))
	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record appends one entry. Failures are returned but callers usually only
// log them; an audit write never fails the operation being audited.
func (s *Store) Record(ctx context.Context, rec *models.AuditRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("audit: record %s %s: %w", rec.Kind, rec.Target, err)
	}
	return nil
}

// Filter narrows Recent.
type Filter struct {
	Kind   models.AuditKind
	Target string
	Since  time.Time
	Limit  int
}

// Recent returns entries newest first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]models.AuditRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = DefaultLimit
	}
	q := s.db.WithContext(ctx).Model(&models.AuditRecord{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Target != "" {
		q = q.Where("target = ?", f.Target)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	var out []models.AuditRecord
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Unscoped().Where("created_at < ?", cutoff).Delete(&models.AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("audit: prune: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("audit entries pruned", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Track starts timing an operation; the returned func fills DurationMS and
// records the entry.
func (s *Store) Track(kind models.AuditKind, target, user string) func(ctx context.Context, method, outcome, detail string) {
	start := time.Now()
	return func(ctx context.Context, method, outcome, detail string) {
		if s == nil {
			return
		}
		rec := &models.AuditRecord{
			Kind:       kind,
			Target:     target,
			User:       user,
			Method:     method,
			Outcome:    outcome,
			Detail:     detail,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err := s.Record(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}
