package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS acknowledged_alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			metadata_json JSONB NOT NULL,
			user_id TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			acknowledged_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acknowledged_alerts_received ON acknowledged_alerts(received_at)`,
	},
	loadSnapshot: `SELECT body::text FROM snapshots WHERE key = $1`,
	saveSnapshot: `INSERT INTO snapshots (key, version, body, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET version = EXCLUDED.version, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
	insertAlert: `INSERT INTO acknowledged_alerts (alert_id, title, message, severity, metadata_json, user_id, received_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	recentAlerts: `SELECT alert_id, title, message, severity, metadata_json::text, user_id, received_at, acknowledged_at
		FROM acknowledged_alerts ORDER BY id DESC LIMIT $1`,
}

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn, key string) (SnapshotStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/alertdesk?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresStore(db, key), nil
}

func newPostgresStore(db *sql.DB, key string) *postgresStore {
	return &postgresStore{baseStore{db: db, key: key, d: postgresDialect}}
}
