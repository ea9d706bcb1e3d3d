package database

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trench/internal/model"
	"trench/internal/testutil"
)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", testutil.FixedClock(), nil)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mustInsertRepo(t *testing.T, db *SQLiteDatabase, name, path string) *model.Repo {
	t.Helper()
	repo, err := db.InsertRepo(name, path, "main")
	if err != nil {
		t.Fatalf("InsertRepo() error = %v", err)
	}
	return repo
}

func mustInsertWorktree(t *testing.T, db *SQLiteDatabase, repoID int64, name, path string) *model.Worktree {
	t.Helper()
	base := "main"
	wt, err := db.InsertWorktree(repoID, name, name, path, &base)
	if err != nil {
		t.Fatalf("InsertWorktree() error = %v", err)
	}
	return wt
}

func TestSQLiteDatabase_Pragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trench.db")
	db, err := NewSQLiteDatabase(path, nil, nil)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var mode string
	if err := db.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var sync int
	if err := db.db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatalf("reading synchronous: %v", err)
	}
	if sync != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", sync)
	}

	if db.Recovery() != nil {
		t.Errorf("Recovery() = %+v, want nil for a fresh file", db.Recovery())
	}
}

func TestSQLiteDatabase_Repos(t *testing.T) {
	t.Run("insert returns populated record", func(t *testing.T) {
		db := newTestDB(t)

		repo, err := db.InsertRepo("project", "/src/project", "main")
		if err != nil {
			t.Fatalf("InsertRepo() error = %v", err)
		}
		if repo.ID == 0 {
			t.Error("ID = 0, want generated id")
		}
		if !repo.CreatedAt.Equal(testutil.FixedClock().Now()) {
			t.Errorf("CreatedAt = %v, want %v", repo.CreatedAt, testutil.FixedClock().Now())
		}
	})

	t.Run("lookups return nil when missing", func(t *testing.T) {
		db := newTestDB(t)

		repo, err := db.GetRepo(99)
		if err != nil || repo != nil {
			t.Errorf("GetRepo(99) = %v, %v; want nil, nil", repo, err)
		}
		repo, err = db.GetRepoByPath("/nowhere")
		if err != nil || repo != nil {
			t.Errorf("GetRepoByPath() = %v, %v; want nil, nil", repo, err)
		}
	})

	t.Run("round trips by id and path", func(t *testing.T) {
		db := newTestDB(t)
		created := mustInsertRepo(t, db, "project", "/src/project")

		byID, err := db.GetRepo(created.ID)
		if err != nil {
			t.Fatalf("GetRepo() error = %v", err)
		}
		byPath, err := db.GetRepoByPath("/src/project")
		if err != nil {
			t.Fatalf("GetRepoByPath() error = %v", err)
		}
		for _, got := range []*model.Repo{byID, byPath} {
			if got == nil {
				t.Fatal("lookup returned nil")
			}
			if got.ID != created.ID || got.Name != "project" || got.DefaultBase != "main" {
				t.Errorf("repo = %+v, want %+v", got, created)
			}
		}
	})

	t.Run("path is unique", func(t *testing.T) {
		db := newTestDB(t)
		mustInsertRepo(t, db, "project", "/src/project")

		_, err := db.InsertRepo("other", "/src/project", "")
		if !errors.Is(err, ErrDuplicatePath) {
			t.Errorf("InsertRepo() duplicate error = %v, want ErrDuplicatePath", err)
		}
	})
}

func TestSQLiteDatabase_Worktrees(t *testing.T) {
	t.Run("insert and get", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")

		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/project/feature")
		if !wt.Managed {
			t.Error("Managed = false, want true")
		}

		got, err := db.GetWorktree(wt.ID)
		if err != nil {
			t.Fatalf("GetWorktree() error = %v", err)
		}
		if got.Path != "/wt/project/feature" || got.BaseBranch == nil || *got.BaseBranch != "main" {
			t.Errorf("GetWorktree() = %+v", got)
		}
		if got.RemovedAt != nil || got.LastAccessed != nil || got.AdoptedAt != nil {
			t.Errorf("nullable timestamps should be nil: %+v", got)
		}

		byPath, err := db.GetWorktreeByPath("/wt/project/feature")
		if err != nil {
			t.Fatalf("GetWorktreeByPath() error = %v", err)
		}
		if byPath == nil || byPath.ID != wt.ID {
			t.Errorf("GetWorktreeByPath() = %+v, want id %d", byPath, wt.ID)
		}
	})

	t.Run("rejects unknown repo", func(t *testing.T) {
		db := newTestDB(t)

		if _, err := db.InsertWorktree(42, "x", "x", "/wt/x", nil); err == nil {
			t.Error("InsertWorktree() with unknown repo succeeded, want foreign key error")
		}
	})

	t.Run("path unique across repos", func(t *testing.T) {
		db := newTestDB(t)
		a := mustInsertRepo(t, db, "a", "/src/a")
		b := mustInsertRepo(t, db, "b", "/src/b")
		mustInsertWorktree(t, db, a.ID, "x", "/wt/shared")

		_, err := db.InsertWorktree(b.ID, "x", "x", "/wt/shared", nil)
		if !errors.Is(err, ErrDuplicatePath) {
			t.Errorf("InsertWorktree() error = %v, want ErrDuplicatePath", err)
		}
	})

	t.Run("list orders by creation and skips removed", func(t *testing.T) {
		clock := testutil.FixedClock()
		db, err := NewSQLiteDatabase(":memory:", clock, nil)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()

		repo := mustInsertRepo(t, db, "project", "/src/project")
		first := mustInsertWorktree(t, db, repo.ID, "first", "/wt/first")
		clock.Advance(time.Minute)
		second := mustInsertWorktree(t, db, repo.ID, "second", "/wt/second")
		clock.Advance(time.Minute)
		gone := mustInsertWorktree(t, db, repo.ID, "gone", "/wt/gone")

		if _, err := db.InsertEvent(repo.ID, &gone.ID, model.EventCreated, nil); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
		if err := db.UpdateWorktree(gone.ID, model.WorktreeUpdate{RemovedAt: model.SetValue(clock.Now())}); err != nil {
			t.Fatalf("UpdateWorktree() error = %v", err)
		}

		list, err := db.ListWorktrees(repo.ID)
		if err != nil {
			t.Fatalf("ListWorktrees() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
			t.Fatalf("ListWorktrees() = %v, want [first second]", list)
		}

		// The removed row still exists, and so does its history.
		row, err := db.GetWorktree(gone.ID)
		if err != nil || row == nil || row.RemovedAt == nil {
			t.Errorf("GetWorktree(removed) = %+v, %v; want row with RemovedAt", row, err)
		}
		count, err := db.CountEvents(gone.ID, "")
		if err != nil || count != 1 {
			t.Errorf("CountEvents(removed) = %d, %v; want 1", count, err)
		}
	})

	t.Run("find by identifier prefers name and skips removed", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")

		byBranch, err := db.InsertWorktree(repo.ID, "feature-auth", "feature/auth", "/wt/feature-auth", nil)
		if err != nil {
			t.Fatalf("InsertWorktree() error = %v", err)
		}

		got, err := db.FindWorktreeByIdentifier(repo.ID, "feature/auth")
		if err != nil || got == nil || got.ID != byBranch.ID {
			t.Fatalf("FindWorktreeByIdentifier(branch) = %+v, %v", got, err)
		}
		got, err = db.FindWorktreeByIdentifier(repo.ID, "feature-auth")
		if err != nil || got == nil || got.ID != byBranch.ID {
			t.Fatalf("FindWorktreeByIdentifier(name) = %+v, %v", got, err)
		}

		if err := db.UpdateWorktree(byBranch.ID, model.WorktreeUpdate{RemovedAt: model.SetValue(time.Now())}); err != nil {
			t.Fatalf("UpdateWorktree() error = %v", err)
		}
		got, err = db.FindWorktreeByIdentifier(repo.ID, "feature-auth")
		if err != nil || got != nil {
			t.Errorf("FindWorktreeByIdentifier(removed) = %+v, %v; want nil", got, err)
		}
	})
}

func TestSQLiteDatabase_UpdateWorktree(t *testing.T) {
	t.Run("set null clears nullable column", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		if err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{BaseBranch: model.SetNull[string]()}); err != nil {
			t.Fatalf("UpdateWorktree() error = %v", err)
		}
		got, _ := db.GetWorktree(wt.ID)
		if got.BaseBranch != nil {
			t.Errorf("BaseBranch = %q, want nil", *got.BaseBranch)
		}
	})

	t.Run("set value writes column and leaves others", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		touched := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{
			BaseBranch:   model.SetValue("develop"),
			LastAccessed: model.SetValue(touched),
		})
		if err != nil {
			t.Fatalf("UpdateWorktree() error = %v", err)
		}
		got, _ := db.GetWorktree(wt.ID)
		if got.BaseBranch == nil || *got.BaseBranch != "develop" {
			t.Errorf("BaseBranch = %v, want develop", got.BaseBranch)
		}
		if got.LastAccessed == nil || !got.LastAccessed.Equal(touched) {
			t.Errorf("LastAccessed = %v, want %v", got.LastAccessed, touched)
		}
		if got.AdoptedAt != nil {
			t.Errorf("AdoptedAt = %v, want nil", got.AdoptedAt)
		}
	})

	t.Run("empty update is a no-op", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		if err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{}); err != nil {
			t.Errorf("UpdateWorktree(empty) error = %v, want nil", err)
		}
		got, _ := db.GetWorktree(wt.ID)
		if got.BaseBranch == nil || *got.BaseBranch != "main" {
			t.Errorf("BaseBranch changed by empty update: %v", got.BaseBranch)
		}
	})

	t.Run("unknown id fails not found", func(t *testing.T) {
		db := newTestDB(t)

		err := db.UpdateWorktree(404, model.WorktreeUpdate{BaseBranch: model.SetValue("x")})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateWorktree() error = %v, want ErrNotFound", err)
		}
		err = db.UpdateWorktree(404, model.WorktreeUpdate{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateWorktree(empty) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("removed_at is monotonic", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		if err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{RemovedAt: model.SetValue(first)}); err != nil {
			t.Fatalf("UpdateWorktree() error = %v", err)
		}
		later := first.Add(time.Hour)
		if err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{RemovedAt: model.SetValue(later)}); err != nil {
			t.Fatalf("second soft delete error = %v", err)
		}
		got, _ := db.GetWorktree(wt.ID)
		if got.RemovedAt == nil || !got.RemovedAt.Equal(first) {
			t.Errorf("RemovedAt = %v, want %v", got.RemovedAt, first)
		}

		err := db.UpdateWorktree(wt.ID, model.WorktreeUpdate{RemovedAt: model.SetNull[time.Time]()})
		if !errors.Is(err, ErrRemovedAtCleared) {
			t.Errorf("clearing RemovedAt error = %v, want ErrRemovedAtCleared", err)
		}
	})
}

func TestSQLiteDatabase_Events(t *testing.T) {
	t.Run("insert returns record with payload", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		ev, err := db.InsertEvent(repo.ID, &wt.ID, model.EventCreated, map[string]any{"op_id": "op-1"})
		if err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
		if ev.ID == 0 || ev.EventType != model.EventCreated {
			t.Errorf("InsertEvent() = %+v", ev)
		}

		events, err := db.ListEvents(repo.ID, 10)
		if err != nil {
			t.Fatalf("ListEvents() error = %v", err)
		}
		if len(events) != 1 || events[0].Payload["op_id"] != "op-1" {
			t.Errorf("ListEvents() = %+v", events)
		}
		if events[0].WorktreeID == nil || *events[0].WorktreeID != wt.ID {
			t.Errorf("WorktreeID = %v, want %d", events[0].WorktreeID, wt.ID)
		}
	})

	t.Run("repo-level event without worktree", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")

		if _, err := db.InsertEvent(repo.ID, nil, "init", nil); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
	})

	t.Run("rejects cross-repo worktree", func(t *testing.T) {
		db := newTestDB(t)
		a := mustInsertRepo(t, db, "a", "/src/a")
		b := mustInsertRepo(t, db, "b", "/src/b")
		wt := mustInsertWorktree(t, db, a.ID, "feature", "/wt/feature")

		_, err := db.InsertEvent(b.ID, &wt.ID, model.EventCreated, nil)
		if !errors.Is(err, ErrCrossRepoEvent) {
			t.Errorf("InsertEvent() error = %v, want ErrCrossRepoEvent", err)
		}
		count, _ := db.CountEvents(wt.ID, "")
		if count != 0 {
			t.Errorf("CountEvents() = %d after rejected insert, want 0", count)
		}
	})

	t.Run("count filters by type", func(t *testing.T) {
		db := newTestDB(t)
		repo := mustInsertRepo(t, db, "project", "/src/project")
		wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

		for _, typ := range []string{model.EventCreated, model.EventSwitched, model.EventSwitched} {
			if _, err := db.InsertEvent(repo.ID, &wt.ID, typ, nil); err != nil {
				t.Fatalf("InsertEvent() error = %v", err)
			}
		}

		if n, _ := db.CountEvents(wt.ID, model.EventSwitched); n != 2 {
			t.Errorf("CountEvents(switched) = %d, want 2", n)
		}
		if n, _ := db.CountEvents(wt.ID, ""); n != 3 {
			t.Errorf("CountEvents(all) = %d, want 3", n)
		}
	})
}

func TestSQLiteDatabase_Tags(t *testing.T) {
	db := newTestDB(t)
	repo := mustInsertRepo(t, db, "project", "/src/project")
	wt := mustInsertWorktree(t, db, repo.ID, "feature", "/wt/feature")

	for _, tag := range []string{"wip", "backend", "wip"} {
		if err := db.AddTag(wt.ID, tag); err != nil {
			t.Fatalf("AddTag(%q) error = %v", tag, err)
		}
	}

	tags, err := db.ListTags(wt.ID)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if strings.Join(tags, ",") != "backend,wip" {
		t.Errorf("ListTags() = %v, want [backend wip]", tags)
	}

	if err := db.RemoveTag(wt.ID, "absent"); err != nil {
		t.Errorf("RemoveTag(absent) error = %v, want nil", err)
	}
	if err := db.RemoveTag(wt.ID, "wip"); err != nil {
		t.Fatalf("RemoveTag() error = %v", err)
	}

	tags, _ = db.ListTags(wt.ID)
	if len(tags) != 1 || tags[0] != "backend" {
		t.Errorf("ListTags() after remove = %v, want [backend]", tags)
	}
}

func TestSQLiteDatabase_Session(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := db.GetSession("current_worktree"); err != nil || ok {
		t.Errorf("GetSession(missing) ok = %v, err = %v", ok, err)
	}

	if err := db.SetSession("current_worktree", "a"); err != nil {
		t.Fatalf("SetSession() error = %v", err)
	}
	if err := db.SetSession("current_worktree", "b"); err != nil {
		t.Fatalf("SetSession() overwrite error = %v", err)
	}

	value, ok, err := db.GetSession("current_worktree")
	if err != nil || !ok || value != "b" {
		t.Errorf("GetSession() = %q, %v, %v; want b", value, ok, err)
	}
}

func TestNewSQLiteDatabase_RecoversFromNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trench.db")

	db, err := NewSQLiteDatabase(path, nil, nil)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	mustInsertRepo(t, db, "project", "/src/project")
	db.Close()

	// Simulate a file last written by a future build.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening raw connection: %v", err)
	}
	if _, err := raw.Exec("UPDATE schema_migrations SET version = 999"); err != nil {
		t.Fatalf("bumping schema version: %v", err)
	}
	raw.Close()

	clock := testutil.FixedClock()
	db, err = NewSQLiteDatabase(path, clock, nil)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() on newer schema error = %v", err)
	}
	defer db.Close()

	rec := db.Recovery()
	if rec == nil {
		t.Fatal("Recovery() = nil, want backup details")
	}
	if rec.FoundVersion != 999 {
		t.Errorf("FoundVersion = %d, want 999", rec.FoundVersion)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var backups []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".bak") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want exactly one", backups)
	}
	if filepath.Join(dir, backups[0]) != rec.BackupPath {
		t.Errorf("BackupPath = %s, want %s", rec.BackupPath, filepath.Join(dir, backups[0]))
	}
	if !strings.Contains(backups[0], "20240115T103000Z") {
		t.Errorf("backup name %q should carry the clock timestamp", backups[0])
	}

	// The fresh store is empty and usable.
	repo, err := db.GetRepoByPath("/src/project")
	if err != nil || repo != nil {
		t.Errorf("GetRepoByPath() on fresh store = %+v, %v; want nil", repo, err)
	}
	mustInsertRepo(t, db, "project", "/src/project")
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
}
