package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Resinat/Coffer/internal/config"
)

const (
	sqlGetSystemConfig = `SELECT config_json, version FROM system_config WHERE id = 1`
	sqlPutSystemConfig = `
INSERT INTO system_config (id, config_json, version, updated_at_ns) VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	config_json = excluded.config_json, version = excluded.version, updated_at_ns = excluded.updated_at_ns`

	sqlGetRefreshChecked  = `SELECT checked FROM refresh_checked WHERE tab_uid = ?`
	sqlListRefreshChecked = `SELECT tab_uid, checked FROM refresh_checked`
	sqlPutRefreshChecked  = `
INSERT INTO refresh_checked (tab_uid, checked, updated_at_ns) VALUES (?, ?, ?)
ON CONFLICT(tab_uid) DO UPDATE SET
	checked = excluded.checked, updated_at_ns = excluded.updated_at_ns`
)

// StateRepo reads and writes state.db. Writes are serialized.
type StateRepo struct {
	db      *sql.DB
	writeMu sync.Mutex
}

func newStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

func (r *StateRepo) exec(query string, args ...any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err := r.db.Exec(query, args...)
	return err
}

// GetSystemConfig returns the persisted runtime config and its version.
// Fields missing from the stored JSON keep their defaults. A fresh database
// yields (nil, 0, nil).
func (r *StateRepo) GetSystemConfig() (*config.RuntimeConfig, int, error) {
	var (
		raw     []byte
		version int
	)
	switch err := r.db.QueryRow(sqlGetSystemConfig).Scan(&raw, &version); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, 0, nil
	case err != nil:
		return nil, 0, fmt.Errorf("system_config: %w", err)
	}
	cfg := config.NewDefaultRuntimeConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, 0, fmt.Errorf("system_config: decode: %w", err)
	}
	return cfg, version, nil
}

// SaveSystemConfig stores cfg as the single system_config row.
func (r *StateRepo) SaveSystemConfig(cfg *config.RuntimeConfig, version int, updatedAtNs int64) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("system_config: encode: %w", err)
	}
	if err := r.exec(sqlPutSystemConfig, string(raw), version, updatedAtNs); err != nil {
		return fmt.Errorf("system_config: %w", err)
	}
	return nil
}

// SetRefreshChecked records whether tabUID belongs to the "checked"
// refresh selection.
func (r *StateRepo) SetRefreshChecked(tabUID string, checked bool, updatedAtNs int64) error {
	if tabUID == "" {
		return errors.New("refresh_checked: empty tab uid")
	}
	if err := r.exec(sqlPutRefreshChecked, tabUID, checked, updatedAtNs); err != nil {
		return fmt.Errorf("refresh_checked %s: %w", tabUID, err)
	}
	return nil
}

// GetRefreshChecked returns ErrNotFound for a tab that was never marked.
func (r *StateRepo) GetRefreshChecked(tabUID string) (bool, error) {
	var checked bool
	err := r.db.QueryRow(sqlGetRefreshChecked, tabUID).Scan(&checked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("refresh_checked %s: %w", tabUID, err)
	}
	return checked, nil
}

// ListRefreshChecked returns every recorded mark keyed by tab unique id.
func (r *StateRepo) ListRefreshChecked() (map[string]bool, error) {
	rows, err := r.db.Query(sqlListRefreshChecked)
	if err != nil {
		return nil, fmt.Errorf("refresh_checked: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]bool)
	for rows.Next() {
		var (
			uid     string
			checked bool
		)
		if err := rows.Scan(&uid, &checked); err != nil {
			return nil, fmt.Errorf("refresh_checked: %w", err)
		}
		marks[uid] = checked
	}
	return marks, rows.Err()
}
