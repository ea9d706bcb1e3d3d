package database

import (
	"fmt"
	"os"
	"path/filepath"

	"trench/internal/trench"
)

// FileName is the database file inside the data directory.
const FileName = "trench.db"

// NewDatabaseFromDataDir opens the state database inside dataDir, creating
// the directory when needed. An empty dataDir is an error; ":memory:" opens
// a private in-memory database.
func NewDatabaseFromDataDir(dataDir string, clock trench.Clock, logger trench.Logger) (*SQLiteDatabase, error) {
	switch dataDir {
	case "":
		return nil, fmt.Errorf("data directory required for sqlite database")
	case ":memory:":
		return NewSQLiteDatabase(":memory:", clock, logger)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return NewSQLiteDatabase(filepath.Join(dataDir, FileName), clock, logger)
}
