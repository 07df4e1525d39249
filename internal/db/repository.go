package db

import (
	"go.uber.org/zap"
)

// Repository handles database operations for reminders, tasks, leads and
// organization settings. Every mutation is a single-row update scoped by
// primary key, except the follow-up cycle write which is one transaction.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
