package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Error 1062"): // MySQL
		return true
	case strings.Contains(msg, "duplicate key value violates unique constraint"): // PostgreSQL 23505
		return true
	case strings.Contains(msg, "UNIQUE constraint failed"): // SQLite 2067
		return true
	}
	return false
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful. SQLite
// serializes writers on the database file instead.
func SupportsRowLocks(conn *gorm.DB) bool {
	return conn != nil && conn.Dialector.Name() != "sqlite"
}
