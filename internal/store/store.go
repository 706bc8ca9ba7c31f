/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package store is the append-only persistence layer for captured
// credential attempts: a pooled gorm session over a sqlite file,
// guarded by a health-check supervisor.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sabouaram/baitline/internal/errs"
	libLog "github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/model"
)

// Store owns the event table. The zero value is not usable; construct
// with Open.
type Store struct {
	mu  sync.Mutex
	db  atomic.Value // *gorm.DB
	dsn string
	log libLog.Logger
}

// Open connects to dsn (a sqlite file path, or any gorm-sqlite DSN),
// migrates the login_attempts table, and returns a ready Store.
func Open(dsn string, log libLog.Logger) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "store: open database", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "store: acquire sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1) // sqlite: serialize writers, avoid SQLITE_BUSY
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err = gdb.AutoMigrate(&model.CredentialAttempt{}); err != nil {
		return nil, errs.Wrap(errs.CodeStore, "store: migrate schema", err)
	}

	s := &Store{dsn: dsn, log: log}
	s.db.Store(gdb)
	return s, nil
}

func (s *Store) current() *gorm.DB {
	return s.db.Load().(*gorm.DB)
}

// Append inserts one credential attempt row. Append-only: rows are
// never updated or deleted by the store itself.
func (s *Store) Append(ctx context.Context, attempt model.CredentialAttempt) error {
	if err := s.current().WithContext(ctx).Create(&attempt).Error; err != nil {
		return errs.Wrap(errs.CodeStore, "store: append attempt", err)
	}
	return nil
}

// QueryAll returns every stored attempt, most recent first — the shape
// the subscriber hub's backfill consumes.
func (s *Store) QueryAll(ctx context.Context) ([]model.CredentialAttempt, error) {
	var rows []model.CredentialAttempt
	if err := s.current().WithContext(ctx).Order("timestamp desc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.CodeStore, "store: query all", err)
	}
	return rows, nil
}

// Count returns the total number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.current().WithContext(ctx).Model(&model.CredentialAttempt{}).Count(&n).Error; err != nil {
		return 0, errs.Wrap(errs.CodeStore, "store: count", err)
	}
	return n, nil
}

// CheckConn pings the underlying connection; used by a periodic health
// supervisor so a dropped sqlite handle surfaces in the logs rather
// than silently failing every subsequent Append.
func (s *Store) CheckConn(ctx context.Context) error {
	sqlDB, err := s.current().DB()
	if err != nil {
		return errs.Wrap(errs.CodeStore, "store: acquire sql.DB", err)
	}
	if err = sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(errs.CodeStore, "store: ping failed", err)
	}
	return nil
}

// Supervise runs CheckConn on an interval, logging (but not exiting on)
// failures, until ctx is canceled.
func (s *Store) Supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CheckConn(ctx); err != nil {
				s.log.Error("store: health check failed", err, nil)
			}
		}
	}
}

// Close releases the underlying sql.DB connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlDB, err := s.current().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
