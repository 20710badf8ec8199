package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/eddielth/sensor-poller/logger"
)

// DatabaseType names a supported SQL backend in database.type.
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql" // "postgres" is accepted too
)

// DatabaseStorage is a StorageBackend backed by a SQL database.
type DatabaseStorage interface {
	StorageBackend
	// InitDatabase creates the tables when missing.
	InitDatabase() error
}

// NewDatabaseStorage opens the database of the given type.
func NewDatabaseStorage(dbType string, dsn string) (DatabaseStorage, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL, "postgres":
		return NewPostgreSQLStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)
}

// insertEvents writes all events in one transaction using insertSQL, whose
// placeholders follow eventArgs order.
func insertEvents(db *sql.DB, insertSQL string, events []Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("rollback failed: %v", rbErr)
			}
		}
	}()

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert failed: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err = stmt.Exec(eventArgs(ev)...); err != nil {
			return fmt.Errorf("insert event for %s failed: %w", ev.SensorID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func eventArgs(ev Event) []interface{} {
	return []interface{}{
		ev.SensorID,
		ev.Name,
		ev.Status,
		ev.Outcome,
		ev.Reason,
		nullFloat(ev.CO2),
		nullFloat(ev.TVOC),
		ev.Timestamp.UTC(),
	}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
