package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS acknowledged_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			user_id TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			acknowledged_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acknowledged_alerts_received ON acknowledged_alerts(received_at)`,
	},
	loadSnapshot: `SELECT body FROM snapshots WHERE key = ?`,
	saveSnapshot: `INSERT INTO snapshots (key, version, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version, body = excluded.body, updated_at = excluded.updated_at`,
	insertAlert: `INSERT INTO acknowledged_alerts (alert_id, title, message, severity, metadata_json, user_id, received_at, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	recentAlerts: `SELECT alert_id, title, message, severity, metadata_json, user_id, received_at, acknowledged_at
		FROM acknowledged_alerts ORDER BY id DESC LIMIT ?`,
}

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn, key string) (SnapshotStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:alertdesk.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, key: key, d: sqliteDialect}}, nil
}
