package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertdesk/internal/config"
	"alertdesk/internal/model"
)

const SnapshotVersion = 1

var (
	ErrNoSnapshot         = errors.New("storage: no snapshot")
	ErrUnsupportedVersion = errors.New("storage: unsupported snapshot version")
)

// Snapshot is the persisted notification state. The unread count is not
// stored; it is recomputed from Read flags on load.
type Snapshot struct {
	Version            int                  `json:"version"`
	Notifications      []model.Notification `json:"notifications"`
	EmailNotifications []model.Notification `json:"emailNotifications"`
	EmailSettings      model.EmailSettings  `json:"emailSettings"`
}

type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// AlertLog records acknowledged emergency alerts.
type AlertLog interface {
	SaveAlert(ctx context.Context, alert model.EmergencyAlert) error
	RecentAlerts(ctx context.Context, limit int) ([]model.EmergencyAlert, error)
}

func NewStore(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		store SnapshotStore
		err   error
	)
	switch strings.ToLower(cfg.Driver) {
	case "file", "":
		store, err = NewFile(cfg.Path)
	case "sqlite":
		store, err = NewSQLite(cfg.DSN, cfg.Key)
	case "postgres", "postgresql":
		store, err = NewPostgres(cfg.DSN, cfg.Key)
	case "redis":
		store, err = NewRedis(cfg.DSN, cfg.Key)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if i, ok := store.(interface{ Init(context.Context) error }); ok {
		if err := i.Init(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init %s storage: %w", cfg.Driver, err)
		}
	}
	return store, nil
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	snap.Version = SnapshotVersion
	return json.Marshal(snap)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	snap.Version = SnapshotVersion
	return snap, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
