package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/eddielth/sensor-poller/logger"
	"github.com/go-sql-driver/mysql"
)

// MySQLStorage mirrors sensor events into MySQL.
type MySQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewMySQLStorage connects to the server, creates the database when missing
// and prepares the tables.
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	database, serverDSN, err := splitMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN failed: %w", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect MySQL server failed: %w", err)
	}
	defer serverDB.Close()

	quoted := "`" + strings.ReplaceAll(database, "`", "``") + "`"
	_, err = serverDB.Exec("CREATE DATABASE IF NOT EXISTS " + quoted + " CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci")
	if err != nil {
		return nil, fmt.Errorf("create database failed: %w", err)
	}
	logger.Info("MySQL database %s is present", database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect MySQL database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping MySQL database failed: %w", err)
	}
	configurePool(db)

	storage := &MySQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init MySQL database failed: %w", err)
	}

	logger.Info("MySQL storage ready")
	return storage, nil
}

// splitMySQLDSN returns the database name and a DSN for the bare server.
func splitMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", err
	}
	if cfg.DBName == "" {
		return "", "", fmt.Errorf("DSN does not name a database")
	}
	database = cfg.DBName
	cfg.DBName = ""
	return database, cfg.FormatDSN(), nil
}

// InitDatabase implements DatabaseStorage.
func (ms *MySQLStorage) InitDatabase() error {
	eventTableSQL := `
	CREATE TABLE IF NOT EXISTS sensor_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		sensor_id VARCHAR(255) NOT NULL,
		sensor_name VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		reason TEXT,
		co2 DOUBLE NULL,
		tvoc DOUBLE NULL,
		observed_at DATETIME(6) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_sensor_time (sensor_id, observed_at),
		INDEX idx_observed_at (observed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := ms.db.Exec(eventTableSQL); err != nil {
		return fmt.Errorf("create sensor_events table failed: %w", err)
	}

	logger.Info("MySQL tables ready")
	return nil
}

// Name implements StorageBackend.
func (ms *MySQLStorage) Name() string { return "mysql" }

// Store implements StorageBackend.
func (ms *MySQLStorage) Store(events []Event) error {
	const insertSQL = `INSERT INTO sensor_events
		(sensor_id, sensor_name, status, outcome, reason, co2, tvoc, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if err := insertEvents(ms.db, insertSQL, events); err != nil {
		return err
	}
	logger.Debug("stored %d events in MySQL", len(events))
	return nil
}

// Close implements StorageBackend.
func (ms *MySQLStorage) Close() error {
	if ms.db != nil {
		if err := ms.db.Close(); err != nil {
			return fmt.Errorf("close MySQL connection failed: %w", err)
		}
		logger.Info("MySQL connection closed")
	}
	return nil
}
