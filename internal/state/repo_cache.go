package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Resinat/Coffer/internal/model"
)

// CacheRepo wraps cache.db and provides batch read/write for weak-persist data.
type CacheRepo struct {
	db *sql.DB
}

// newCacheRepo creates a CacheRepo for the given cache.db connection.
func newCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// DataEntry is one row of the generic key/value table.
type DataEntry struct {
	Key   string
	Value []byte
}

// TabList is the ordered tab listing of one location type.
type TabList struct {
	Type model.LocationType
	Tabs []model.ItemLocation
}

// ItemList is the ordered item list of one location, keyed by
// ItemLocation.UniqueHash.
type ItemList struct {
	LocHash string
	Items   []model.ItemRecord
}

// --- data ---

// BulkUpsertData batch-inserts or updates key/value rows.
func (r *CacheRepo) BulkUpsertData(entries []DataEntry) error {
	return bulkExecRows(r, upsertDataSQL, entries, func(stmt *sql.Stmt, e DataEntry) error {
		_, err := stmt.Exec(e.Key, e.Value)
		return err
	})
}

// LoadAllData reads every key/value row.
func (r *CacheRepo) LoadAllData() (map[string][]byte, error) {
	rows, err := r.db.Query("SELECT key, value FROM data")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// --- tabs ---

// ReplaceTabs replaces the stored listing of each given type.
func (r *CacheRepo) ReplaceTabs(lists []TabList) error {
	return r.FlushTx(FlushOps{ReplaceTabs: lists})
}

// LoadAllTabs reads every stored tab, grouped by type in position order.
func (r *CacheRepo) LoadAllTabs() (map[model.LocationType][]model.ItemLocation, error) {
	rows, err := r.db.Query("SELECT type, tab_json FROM tabs ORDER BY type, position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[model.LocationType][]model.ItemLocation)
	for rows.Next() {
		var typeName, tabJSON string
		if err := rows.Scan(&typeName, &tabJSON); err != nil {
			return nil, err
		}
		locType, err := model.ParseLocationType(typeName)
		if err != nil {
			return nil, err
		}
		var loc model.ItemLocation
		if err := json.Unmarshal([]byte(tabJSON), &loc); err != nil {
			return nil, fmt.Errorf("decode tab: %w", err)
		}
		loc.Type = locType
		result[locType] = append(result[locType], loc)
	}
	return result, rows.Err()
}

// --- items ---

// ReplaceItems replaces the stored items of each given location.
func (r *CacheRepo) ReplaceItems(lists []ItemList) error {
	return r.FlushTx(FlushOps{ReplaceItems: lists})
}

// LoadAllItems reads every stored item, grouped by location hash in position order.
func (r *CacheRepo) LoadAllItems() (map[string][]model.ItemRecord, error) {
	rows, err := r.db.Query("SELECT loc_hash, socketed, item_json FROM items ORDER BY loc_hash, position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]model.ItemRecord)
	for rows.Next() {
		var locHash, itemJSON string
		var socketed int
		if err := rows.Scan(&locHash, &socketed, &itemJSON); err != nil {
			return nil, err
		}
		result[locHash] = append(result[locHash], model.ItemRecord{
			JSON:     json.RawMessage(itemJSON),
			Socketed: socketed != 0,
		})
	}
	return result, rows.Err()
}

// --- internal helpers ---

// bulkExecTx runs a prepared statement within an existing transaction for n rows.
func bulkExecTx(tx *sql.Tx, query string, n int, execFn func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := execFn(stmt, i); err != nil {
			return fmt.Errorf("exec row %d: %w", i, err)
		}
	}
	return nil
}

// bulkExec runs a prepared statement in its own transaction for n rows.
func (r *CacheRepo) bulkExec(query string, n int, execFn func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := bulkExecTx(tx, query, n, execFn); err != nil {
		return err
	}
	return tx.Commit()
}

func bulkExecRows[T any](
	r *CacheRepo,
	query string,
	rows []T,
	execFn func(stmt *sql.Stmt, row T) error,
) error {
	return r.bulkExec(query, len(rows), func(stmt *sql.Stmt, i int) error {
		return execFn(stmt, rows[i])
	})
}

// FlushOps holds all writes for a single-transaction cache flush.
// A replaced tab type or location is deleted first and then rewritten,
// so position gaps from shrinking lists never survive.
type FlushOps struct {
	UpsertData   []DataEntry
	DeleteData   []string
	ReplaceTabs  []TabList
	DeleteTabs   []model.LocationType
	ReplaceItems []ItemList
	DeleteItems  []string
}

type tabRow struct {
	typeName string
	position int
	locHash  string
	tab      model.ItemLocation
}

type itemRow struct {
	locHash  string
	position int
	item     model.ItemRecord
}

// FlushTx executes all writes in a single transaction.
func (r *CacheRepo) FlushTx(ops FlushOps) error {
	clearTabTypes := make([]string, 0, len(ops.ReplaceTabs)+len(ops.DeleteTabs))
	var tabRows []tabRow
	for _, list := range ops.ReplaceTabs {
		clearTabTypes = append(clearTabTypes, list.Type.String())
		for i, tab := range list.Tabs {
			tabRows = append(tabRows, tabRow{
				typeName: list.Type.String(),
				position: i,
				locHash:  tab.UniqueHash(),
				tab:      tab,
			})
		}
	}
	for _, t := range ops.DeleteTabs {
		clearTabTypes = append(clearTabTypes, t.String())
	}

	clearItemLocs := make([]string, 0, len(ops.ReplaceItems)+len(ops.DeleteItems))
	var itemRows []itemRow
	for _, list := range ops.ReplaceItems {
		clearItemLocs = append(clearItemLocs, list.LocHash)
		for i, it := range list.Items {
			itemRows = append(itemRows, itemRow{locHash: list.LocHash, position: i, item: it})
		}
	}
	clearItemLocs = append(clearItemLocs, ops.DeleteItems...)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		name  string
		query string
		n     int
		exec  func(*sql.Stmt, int) error
	}{
		{"upsert_data", upsertDataSQL, len(ops.UpsertData), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.UpsertData[i].Key, ops.UpsertData[i].Value)
			return err
		}},
		{"delete_data", deleteDataSQL, len(ops.DeleteData), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.DeleteData[i])
			return err
		}},
		{"clear_tabs", deleteTabsByTypeSQL, len(clearTabTypes), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(clearTabTypes[i])
			return err
		}},
		{"insert_tabs", insertTabSQL, len(tabRows), func(s *sql.Stmt, i int) error {
			row := tabRows[i]
			tabJSON, err := json.Marshal(row.tab)
			if err != nil {
				return fmt.Errorf("encode tab: %w", err)
			}
			_, err = s.Exec(row.typeName, row.position, row.locHash, string(tabJSON))
			return err
		}},
		{"clear_items", deleteItemsByLocSQL, len(clearItemLocs), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(clearItemLocs[i])
			return err
		}},
		{"insert_items", insertItemSQL, len(itemRows), func(s *sql.Stmt, i int) error {
			row := itemRows[i]
			_, err := s.Exec(row.locHash, row.position, row.item.Socketed, string(row.item.JSON))
			return err
		}},
	}

	for _, step := range steps {
		if err := bulkExecTx(tx, step.query, step.n, step.exec); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return tx.Commit()
}

const (
	upsertDataSQL = `INSERT INTO data (key, value)
		 VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value`

	insertTabSQL  = "INSERT INTO tabs (type, position, loc_hash, tab_json) VALUES (?, ?, ?, ?)"
	insertItemSQL = "INSERT INTO items (loc_hash, position, socketed, item_json) VALUES (?, ?, ?, ?)"

	deleteDataSQL       = "DELETE FROM data WHERE key = ?"
	deleteTabsByTypeSQL = "DELETE FROM tabs WHERE type = ?"
	deleteItemsByLocSQL = "DELETE FROM items WHERE loc_hash = ?"
)
