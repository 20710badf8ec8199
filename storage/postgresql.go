package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/eddielth/sensor-poller/logger"
	"github.com/lib/pq"
)

// PostgreSQLStorage mirrors sensor events into PostgreSQL.
type PostgreSQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewPostgreSQLStorage connects to the server, creates the database when
// missing and prepares the tables.
func NewPostgreSQLStorage(dsn string) (*PostgreSQLStorage, error) {
	database, serverDSN, err := splitPostgreSQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PostgreSQL DSN failed: %w", err)
	}

	serverDB, err := sql.Open("postgres", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect PostgreSQL server failed: %w", err)
	}
	defer serverDB.Close()

	var exists bool
	err = serverDB.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check database existence failed: %w", err)
	}
	if !exists {
		// CREATE DATABASE cannot run inside a transaction or take parameters
		if _, err = serverDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(database)); err != nil {
			return nil, fmt.Errorf("create database failed: %w", err)
		}
		logger.Info("created PostgreSQL database %s", database)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect PostgreSQL database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping PostgreSQL database failed: %w", err)
	}
	configurePool(db)

	storage := &PostgreSQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init PostgreSQL database failed: %w", err)
	}

	logger.Info("PostgreSQL storage ready")
	return storage, nil
}

// splitPostgreSQLDSN returns the database name and a DSN pointing at the
// maintenance database of the same server. URL DSNs are normalized to the
// key/value form first.
func splitPostgreSQLDSN(dsn string) (database string, serverDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dsn, err = pq.ParseURL(dsn)
		if err != nil {
			return "", "", err
		}
	}

	kvPairs := strings.Fields(dsn)
	serverKVPairs := make([]string, 0, len(kvPairs)+1)
	for _, kv := range kvPairs {
		if strings.HasPrefix(kv, "dbname=") {
			database = strings.Trim(strings.TrimPrefix(kv, "dbname="), "'")
			continue
		}
		serverKVPairs = append(serverKVPairs, kv)
	}

	if database == "" {
		return "", "", fmt.Errorf("DSN does not name a database")
	}

	serverKVPairs = append(serverKVPairs, "dbname=postgres")
	return database, strings.Join(serverKVPairs, " "), nil
}

// InitDatabase implements DatabaseStorage.
func (ps *PostgreSQLStorage) InitDatabase() error {
	eventTableSQL := `
	CREATE TABLE IF NOT EXISTS sensor_events (
		id BIGSERIAL PRIMARY KEY,
		sensor_id VARCHAR(255) NOT NULL,
		sensor_name VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		reason TEXT,
		co2 DOUBLE PRECISION,
		tvoc DOUBLE PRECISION,
		observed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sensor_events_sensor_time ON sensor_events(sensor_id, observed_at);
	CREATE INDEX IF NOT EXISTS idx_sensor_events_observed_at ON sensor_events(observed_at);
	`

	if _, err := ps.db.Exec(eventTableSQL); err != nil {
		return fmt.Errorf("create sensor_events table failed: %w", err)
	}

	logger.Info("PostgreSQL tables ready")
	return nil
}

// Name implements StorageBackend.
func (ps *PostgreSQLStorage) Name() string { return "postgresql" }

// Store implements StorageBackend.
func (ps *PostgreSQLStorage) Store(events []Event) error {
	const insertSQL = `INSERT INTO sensor_events
		(sensor_id, sensor_name, status, outcome, reason, co2, tvoc, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if err := insertEvents(ps.db, insertSQL, events); err != nil {
		return err
	}
	logger.Debug("stored %d events in PostgreSQL", len(events))
	return nil
}

// Close implements StorageBackend.
func (ps *PostgreSQLStorage) Close() error {
	if ps.db != nil {
		if err := ps.db.Close(); err != nil {
			return fmt.Errorf("close PostgreSQL connection failed: %w", err)
		}
		logger.Info("PostgreSQL connection closed")
	}
	return nil
}
