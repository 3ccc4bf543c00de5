package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"alertdesk/internal/model"
)

type dialect struct {
	name         string
	schema       []string
	loadSnapshot string
	saveSnapshot string
	insertAlert  string
	recentAlerts string
}

type baseStore struct {
	db  *sql.DB
	key string
	d   dialect
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Load(ctx context.Context) (Snapshot, error) {
	var body string
	err := b.db.QueryRowContext(ctx, b.d.loadSnapshot, b.key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s load snapshot: %w", b.d.name, err)
	}
	return decodeSnapshot([]byte(body))
}

func (b *baseStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, b.d.saveSnapshot, b.key, SnapshotVersion, string(data), nowUTC()); err != nil {
		return fmt.Errorf("%s save snapshot: %w", b.d.name, err)
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.EmergencyAlert) error {
	if b.db == nil {
		return nil
	}
	var acked any
	if alert.AcknowledgedAt != nil {
		acked = alert.AcknowledgedAt.UTC()
	}
	_, err := b.db.ExecContext(ctx, b.d.insertAlert,
		alert.ID,
		alert.Title,
		alert.Message,
		string(alert.Severity),
		encodeJSON(alert.Metadata),
		alert.UserID,
		alert.ReceivedAt.UTC(),
		acked,
	)
	return err
}

func (b *baseStore) RecentAlerts(ctx context.Context, limit int) ([]model.EmergencyAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.QueryContext(ctx, b.d.recentAlerts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EmergencyAlert
	for rows.Next() {
		var (
			a        model.EmergencyAlert
			severity string
			metadata string
			acked    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &severity, &metadata, &a.UserID, &a.ReceivedAt, &acked); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(severity)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode alert metadata: %w", err)
			}
		}
		if acked.Valid {
			t := acked.Time
			a.AcknowledgedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
