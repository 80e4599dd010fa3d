package state

import (
	"database/sql"
	"fmt"
	"log"
)

// RepairConsistency runs orphan-cleanup SQL on cache.db. All DELETEs execute
// in a single transaction to avoid half-repaired state on crash.
//
// Cleanup order:
//  1. tabs: remove rows with an empty loc_hash.
//  2. items: remove rows whose loc_hash has no tab row.
func RepairConsistency(cacheDB *sql.DB) error {
	tx, err := cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("begin repair tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM tabs WHERE loc_hash = ''`,

		`DELETE FROM items
		 WHERE loc_hash NOT IN (SELECT loc_hash FROM tabs)`,
	}

	var removed int64
	for i, s := range stmts {
		res, err := tx.Exec(s)
		if err != nil {
			return fmt.Errorf("repair step %d: %w", i+1, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("[state] consistency repair removed %d orphan rows", removed)
	}
	return nil
}
