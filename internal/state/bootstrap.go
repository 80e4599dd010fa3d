package state

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
)

type dbHandles []*sql.DB

func (h dbHandles) Close() error {
	var errs []error
	for _, db := range h {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

// PersistenceBootstrap opens and migrates state.db in stateDir and
// cache.db in cacheDir, drops orphaned cache rows and returns the engine.
// The returned closer releases both handles.
func PersistenceBootstrap(stateDir, cacheDir string) (*StateEngine, io.Closer, error) {
	stateDB, err := stateDatabase.open(stateDir)
	if err != nil {
		return nil, nil, err
	}
	cacheDB, err := cacheDatabase.open(cacheDir)
	if err != nil {
		stateDB.Close()
		return nil, nil, err
	}
	handles := dbHandles{stateDB, cacheDB}

	if err := RepairConsistency(cacheDB); err != nil {
		handles.Close()
		return nil, nil, fmt.Errorf("repair cache.db: %w", err)
	}
	return newStateEngine(newStateRepo(stateDB), newCacheRepo(cacheDB)), handles, nil
}
