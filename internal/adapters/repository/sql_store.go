package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskmaster/taskpad/internal/infrastructure/database"
	"github.com/taskmaster/taskpad/internal/ports"
)

// SQLStore keeps blobs in the state_blobs table (postgres or sqlite3)
type SQLStore struct {
	conn *database.DB
}

// NewSQLStore wraps an open connection; the schema comes from database.Migrate
func NewSQLStore(conn *database.DB) *SQLStore {
	return &SQLStore{conn: conn}
}

var (
	_ ports.BlobStore     = (*SQLStore)(nil)
	_ ports.HealthChecker = (*SQLStore)(nil)
	_ ports.StatsReporter = (*SQLStore)(nil)
)

func (s *SQLStore) Load(ctx context.Context, namespace string) ([]byte, bool, error) {
	query := s.conn.DB.Rebind(`SELECT payload FROM state_blobs WHERE namespace = ?`)

	var payload []byte
	err := s.conn.DB.GetContext(ctx, &payload, query, namespace)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load %s: %w", namespace, err)
	}
	return payload, true, nil
}

func (s *SQLStore) Save(ctx context.Context, namespace string, blob []byte) error {
	query := s.conn.DB.Rebind(`
		INSERT INTO state_blobs (namespace, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (namespace) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at`)

	if _, err := s.conn.DB.ExecContext(ctx, query, namespace, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

func (s *SQLStore) Stats() map[string]interface{} {
	return s.conn.PoolStats()
}
