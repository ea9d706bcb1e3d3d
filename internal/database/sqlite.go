package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"trench/internal/database/migrations"
	"trench/internal/model"
	"trench/internal/trench"
)

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCrossRepoEvent is returned when an event names a worktree of another repo.
	ErrCrossRepoEvent = errors.New("worktree does not belong to repo")

	// ErrDuplicatePath is returned when a repo or worktree path is already recorded.
	ErrDuplicatePath = errors.New("path already recorded")

	// ErrRemovedAtCleared is returned when an update tries to null removed_at.
	ErrRemovedAtCleared = errors.New("removed_at cannot be cleared")
)

// Recovery describes a database file that was moved aside because its schema
// was written by a newer build.
type Recovery struct {
	BackupPath    string
	FoundVersion  uint
	LatestVersion uint
}

// SQLiteDatabase implements the trench.Store interface using SQLite.
type SQLiteDatabase struct {
	db       *sql.DB
	path     string
	clock    trench.Clock
	logger   trench.Logger
	recovery *Recovery
}

// NewSQLiteDatabase opens (creating if absent) the database at path and applies
// pending migrations. path can be a file path or ":memory:".
//
// A file whose schema version is newer than this build knows is renamed to a
// timestamped backup next to it and replaced by a fresh database; Recovery
// reports when that happened.
func NewSQLiteDatabase(path string, clock trench.Clock, logger trench.Logger) (*SQLiteDatabase, error) {
	if clock == nil {
		clock = trench.RealClock{}
	}
	if logger == nil {
		logger = trench.NewNopLogger()
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	var recovery *Recovery
	err = migrations.MigrateUp(db)
	var ahead *migrations.AheadError
	if errors.As(err, &ahead) && path != ":memory:" {
		db.Close()

		var backup string
		backup, err = backupDatabaseFile(path, clock.Now())
		if err != nil {
			return nil, err
		}
		recovery = &Recovery{
			BackupPath:    backup,
			FoundVersion:  ahead.Version,
			LatestVersion: ahead.Latest,
		}
		// Callers surface the recovery to the user; this only records it.
		logger.Info("database schema is newer than this build; starting fresh",
			"path", path, "backup", backup, "found_version", ahead.Version, "latest_version", ahead.Latest)

		db, err = OpenConnection(path)
		if err != nil {
			return nil, err
		}
		err = migrations.MigrateUp(db)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteDatabase{
		db:       db,
		path:     path,
		clock:    clock,
		logger:   logger,
		recovery: recovery,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock trench.Clock, logger trench.Logger) *SQLiteDatabase {
	if clock == nil {
		clock = trench.RealClock{}
	}
	if logger == nil {
		logger = trench.NewNopLogger()
	}
	return &SQLiteDatabase{
		db:     db,
		clock:  clock,
		logger: logger,
	}
}

// OpenConnection opens and configures a SQLite database connection with
// WAL journaling, foreign keys, synchronous=NORMAL and a busy timeout.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One handle per invocation; writes serialize through this connection and
	// a :memory: database only exists on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	return db, nil
}

// backupDatabaseFile renames path (and any WAL side files) to a timestamped
// sibling and returns the new name of the main file.
func backupDatabaseFile(path string, now time.Time) (string, error) {
	backup := fmt.Sprintf("%s.%s.bak", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backing up database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, backup+suffix); err != nil {
				return "", fmt.Errorf("backing up database %s file: %w", suffix, err)
			}
		}
	}
	return backup, nil
}

// Repo operations

const repoColumns = "id, name, path, default_base, created_at"

func (s *SQLiteDatabase) InsertRepo(name, path, defaultBase string) (*model.Repo, error) {
	createdAt := s.clock.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO repos (name, path, default_base, created_at) VALUES (?, ?, ?, ?)",
		name, path, nullString(defaultBase), createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting repo: %w", mapConstraintError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading repo id: %w", err)
	}
	return &model.Repo{
		ID:          id,
		Name:        name,
		Path:        path,
		DefaultBase: defaultBase,
		CreatedAt:   createdAt,
	}, nil
}

func (s *SQLiteDatabase) GetRepo(id int64) (*model.Repo, error) {
	row := s.db.QueryRow("SELECT "+repoColumns+" FROM repos WHERE id = ?", id)
	repo, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting repo: %w", err)
	}
	return repo, nil
}

func (s *SQLiteDatabase) GetRepoByPath(path string) (*model.Repo, error) {
	row := s.db.QueryRow("SELECT "+repoColumns+" FROM repos WHERE path = ?", path)
	repo, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting repo by path: %w", err)
	}
	return repo, nil
}

// Worktree operations

const worktreeColumns = "id, repo_id, name, branch, path, base_branch, managed, adopted_at, last_accessed, removed_at, created_at"

func (s *SQLiteDatabase) InsertWorktree(repoID int64, name, branch, path string, baseBranch *string) (*model.Worktree, error) {
	createdAt := s.clock.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO worktrees (repo_id, name, branch, path, base_branch, managed, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		repoID, name, branch, path, baseBranch, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting worktree: %w", mapConstraintError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading worktree id: %w", err)
	}
	return &model.Worktree{
		ID:         id,
		RepoID:     repoID,
		Name:       name,
		Branch:     branch,
		Path:       path,
		BaseBranch: baseBranch,
		Managed:    true,
		CreatedAt:  createdAt,
	}, nil
}

func (s *SQLiteDatabase) GetWorktree(id int64) (*model.Worktree, error) {
	row := s.db.QueryRow("SELECT "+worktreeColumns+" FROM worktrees WHERE id = ?", id)
	wt, err := scanWorktree(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	return wt, nil
}

func (s *SQLiteDatabase) GetWorktreeByPath(path string) (*model.Worktree, error) {
	row := s.db.QueryRow("SELECT "+worktreeColumns+" FROM worktrees WHERE path = ?", path)
	wt, err := scanWorktree(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting worktree by path: %w", err)
	}
	return wt, nil
}

func (s *SQLiteDatabase) FindWorktreeByIdentifier(repoID int64, identifier string) (*model.Worktree, error) {
	// Name matches win over branch matches.
	row := s.db.QueryRow(
		"SELECT "+worktreeColumns+` FROM worktrees
		 WHERE repo_id = ? AND removed_at IS NULL AND (name = ? OR branch = ?)
		 ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END, created_at, id
		 LIMIT 1`,
		repoID, identifier, identifier, identifier,
	)
	wt, err := scanWorktree(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding worktree %q: %w", identifier, err)
	}
	return wt, nil
}

func (s *SQLiteDatabase) ListWorktrees(repoID int64) ([]*model.Worktree, error) {
	rows, err := s.db.Query(
		"SELECT "+worktreeColumns+" FROM worktrees WHERE repo_id = ? AND removed_at IS NULL ORDER BY created_at, id",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	defer rows.Close()

	var result []*model.Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, fmt.Errorf("reading worktree row: %w", err)
		}
		result = append(result, wt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) UpdateWorktree(id int64, update model.WorktreeUpdate) error {
	if update.RemovedAt.IsNull() {
		return ErrRemovedAtCleared
	}

	var sets []string
	var args []any

	if !update.BaseBranch.Unchanged() {
		sets = append(sets, "base_branch = ?")
		v, ok := update.BaseBranch.Value()
		args = append(args, nullableArg(v, ok))
	}
	if !update.AdoptedAt.Unchanged() {
		sets = append(sets, "adopted_at = ?")
		v, ok := update.AdoptedAt.Value()
		args = append(args, nullableArg(v.UTC(), ok))
	}
	if !update.LastAccessed.Unchanged() {
		sets = append(sets, "last_accessed = ?")
		v, ok := update.LastAccessed.Value()
		args = append(args, nullableArg(v.UTC(), ok))
	}
	if v, ok := update.RemovedAt.Value(); ok {
		// A second soft delete keeps the original timestamp.
		sets = append(sets, "removed_at = COALESCE(removed_at, ?)")
		args = append(args, v.UTC())
	}
	if update.Managed != nil {
		sets = append(sets, "managed = ?")
		args = append(args, *update.Managed)
	}

	if len(sets) == 0 {
		var exists int
		err := s.db.QueryRow("SELECT 1 FROM worktrees WHERE id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("worktree %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking worktree: %w", err)
		}
		return nil
	}

	args = append(args, id)
	res, err := s.db.Exec("UPDATE worktrees SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating worktree: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating worktree: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("worktree %d: %w", id, ErrNotFound)
	}
	return nil
}

// Event operations

func (s *SQLiteDatabase) InsertEvent(repoID int64, worktreeID *int64, eventType string, payload map[string]any) (*model.Event, error) {
	var payloadText sql.NullString
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding event payload: %w", err)
		}
		payloadText = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if worktreeID != nil {
		var owner int64
		err := tx.QueryRow("SELECT repo_id FROM worktrees WHERE id = ?", *worktreeID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("worktree %d: %w", *worktreeID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("checking event worktree: %w", err)
		}
		if owner != repoID {
			return nil, fmt.Errorf("event for worktree %d in repo %d: %w", *worktreeID, repoID, ErrCrossRepoEvent)
		}
	}

	createdAt := s.clock.Now().UTC()
	res, err := tx.Exec(
		"INSERT INTO events (repo_id, worktree_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		repoID, worktreeID, eventType, payloadText, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &model.Event{
		ID:         id,
		RepoID:     repoID,
		WorktreeID: worktreeID,
		EventType:  eventType,
		Payload:    payload,
		CreatedAt:  createdAt,
	}, nil
}

func (s *SQLiteDatabase) CountEvents(worktreeID int64, eventType string) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE worktree_id = ?"
	args := []any{worktreeID}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}

	var count int64
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

func (s *SQLiteDatabase) ListEvents(repoID int64, limit int) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_id, worktree_id, event_type, payload, created_at
		 FROM events WHERE repo_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		repoID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var result []*model.Event
	for rows.Next() {
		var (
			ev         model.Event
			worktreeID sql.NullInt64
			payload    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RepoID, &worktreeID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("reading event row: %w", err)
		}
		if worktreeID.Valid {
			id := worktreeID.Int64
			ev.WorktreeID = &id
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload of event %d: %w", ev.ID, err)
			}
		}
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return result, nil
}

// Tag operations

func (s *SQLiteDatabase) AddTag(worktreeID int64, name string) error {
	_, err := s.db.Exec(
		"INSERT INTO tags (worktree_id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (worktree_id, name) DO NOTHING",
		worktreeID, name, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding tag %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteDatabase) RemoveTag(worktreeID int64, name string) error {
	if _, err := s.db.Exec("DELETE FROM tags WHERE worktree_id = ? AND name = ?", worktreeID, name); err != nil {
		return fmt.Errorf("removing tag %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteDatabase) ListTags(worktreeID int64) ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM tags WHERE worktree_id = ? ORDER BY name", worktreeID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("reading tag row: %w", err)
		}
		tags = append(tags, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// Session operations

func (s *SQLiteDatabase) SetSession(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting session %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteDatabase) GetSession(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM session WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting session %q: %w", key, err)
	}
	return value, true, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Recovery returns details of a forward-compatibility reset performed while
// opening, or nil when the existing file was used as is.
func (s *SQLiteDatabase) Recovery() *Recovery {
	return s.recovery
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*model.Repo, error) {
	var (
		repo        model.Repo
		defaultBase sql.NullString
	)
	if err := row.Scan(&repo.ID, &repo.Name, &repo.Path, &defaultBase, &repo.CreatedAt); err != nil {
		return nil, err
	}
	repo.DefaultBase = defaultBase.String
	return &repo, nil
}

func scanWorktree(row rowScanner) (*model.Worktree, error) {
	var (
		wt           model.Worktree
		baseBranch   sql.NullString
		adoptedAt    sql.NullTime
		lastAccessed sql.NullTime
		removedAt    sql.NullTime
	)
	err := row.Scan(
		&wt.ID, &wt.RepoID, &wt.Name, &wt.Branch, &wt.Path, &baseBranch, &wt.Managed,
		&adoptedAt, &lastAccessed, &removedAt, &wt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if baseBranch.Valid {
		wt.BaseBranch = &baseBranch.String
	}
	wt.AdoptedAt = timePtr(adoptedAt)
	wt.LastAccessed = timePtr(lastAccessed)
	wt.RemovedAt = timePtr(removedAt)
	return &wt, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableArg[T any](v T, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// mapConstraintError turns a UNIQUE violation into ErrDuplicatePath.
func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicatePath, err)
	}
	return err
}

// Compile-time check that SQLiteDatabase implements trench.Store interface
var _ trench.Store = (*SQLiteDatabase)(nil)
