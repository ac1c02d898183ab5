package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// KVStore is the app-scoped key/value storage. Values are stored as JSON and
// every Set overwrites the whole value.
type KVStore struct {
	DB *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{DB: db}
}

// Get decodes the value stored under key into dest. It reports false when the
// key has never been set.
func (s *KVStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, "SELECT value FROM app_storage WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO app_storage (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(payload))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM app_storage WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
