package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"trench/internal/config"
	"trench/internal/database"
	"trench/internal/git"
	"trench/internal/hooks"
	"trench/internal/model"
	"trench/internal/trench"
)

// Options configures one invocation.
type Options struct {
	Command string // CLI command being run, e.g. "create"
	Cwd     string // empty uses the process working directory
	Verbose bool
	Quiet   bool

	// HookStdout receives hook command output. Machine-readable output modes
	// point it at stderr so stdout stays parseable.
	HookStdout io.Writer
	Stderr     io.Writer

	// IDs generates the operation id. Nil uses random UUIDs.
	IDs trench.IDGenerator
}

// TrenchApp is the application layer between the CLI and trench.Service.
// It constructs all dependencies from config, runs every operation against
// the invocation's working directory, and releases resources on Close.
type TrenchApp struct {
	settings  *config.Settings
	db        *database.SQLiteDatabase
	service   *trench.Service
	op        *Operation
	cwd       string
	logger    *slogAdapter
	logCloser io.Closer
	clock     trench.Clock
}

// NewTrenchApp creates a fully wired TrenchApp. The caller must call Close
// when done.
func NewTrenchApp(opts Options) (*TrenchApp, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.HookStdout == nil {
		opts.HookStdout = os.Stdout
	}
	if opts.IDs == nil {
		opts.IDs = trench.UUIDGenerator{}
	}
	cwd := opts.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getting current directory: %w", err)
		}
	}

	defaults, err := GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	clock := trench.RealClock{}
	opID := opts.IDs.New()
	l, logCloser, err := newLogger(defaults["log_dir"], opID, opts.Stderr, opts.Verbose, opts.Quiet)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	vcs := git.NewAdapter(logger)

	// Outside a repository only the global layer applies; commands that need
	// a repository report that themselves.
	repoRoot := ""
	if info, err := vcs.Discover(cwd); err == nil {
		repoRoot = info.Path
	} else if !errors.Is(err, git.ErrNotARepo) {
		logCloser.Close()
		return nil, fmt.Errorf("discovering repository: %w", err)
	}

	settings, err := config.Load(defaults["config_path"], repoRoot)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.NewDatabaseFromDataDir(defaults["base_dir"], clock, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	engine := hooks.NewEngine(opts.HookStdout, opts.Stderr, logger)
	svc := trench.NewService(db, vcs, engine, settings, logger, clock, opID)

	op := NewOperation(opID, opts.Command, clock.Now())
	logger.Debug("operation started", "command", op.Command, "cwd", cwd)

	return &TrenchApp{
		settings:  settings,
		db:        db,
		service:   svc,
		op:        op,
		cwd:       cwd,
		logger:    logger,
		logCloser: logCloser,
		clock:     clock,
	}, nil
}

// Settings returns the resolved configuration.
func (a *TrenchApp) Settings() *config.Settings {
	return a.settings
}

// Recovery reports whether the database was reset on open.
func (a *TrenchApp) Recovery() *database.Recovery {
	return a.db.Recovery()
}

// OperationID returns the identifier of this invocation.
func (a *TrenchApp) OperationID() string {
	return a.op.ID
}

// Create creates a worktree for branch, based on from when set.
func (a *TrenchApp) Create(ctx context.Context, branch, from string, dryRun bool) (*trench.CreateResult, error) {
	result, err := a.service.Create(ctx, trench.CreateRequest{
		Cwd:    a.cwd,
		Branch: branch,
		From:   from,
		DryRun: dryRun,
	})
	return result, a.op.Track(err)
}

// Remove removes the worktree named by identifier. prune overrides
// git.auto_prune when non-nil.
func (a *TrenchApp) Remove(ctx context.Context, identifier string, prune *bool) (*trench.RemoveResult, error) {
	result, err := a.service.Remove(ctx, trench.RemoveRequest{
		Cwd:         a.cwd,
		Identifier:  identifier,
		PruneRemote: prune,
	})
	return result, a.op.Track(err)
}

// Switch marks a worktree as the current one and returns it.
func (a *TrenchApp) Switch(ctx context.Context, identifier string) (*model.Worktree, error) {
	wt, err := a.service.Switch(ctx, a.cwd, identifier)
	return wt, a.op.Track(err)
}

// Sync fetches and fast-forwards a worktree's branch.
func (a *TrenchApp) Sync(ctx context.Context, identifier string) (*trench.SyncResult, error) {
	result, err := a.service.Sync(ctx, a.cwd, identifier)
	return result, a.op.Track(err)
}

// List returns managed and unmanaged worktrees of the current repository.
func (a *TrenchApp) List(ctx context.Context, tag string) ([]*trench.Entry, error) {
	entries, err := a.service.List(ctx, a.cwd, trench.ListOptions{Tag: tag})
	return entries, a.op.Track(err)
}

// Status describes one worktree, or the one containing the working directory
// when identifier is empty.
func (a *TrenchApp) Status(ctx context.Context, identifier string) (*trench.Entry, error) {
	entry, err := a.service.Status(ctx, a.cwd, identifier)
	return entry, a.op.Track(err)
}

// Tag applies +name/-name arguments to a worktree and returns its tags.
func (a *TrenchApp) Tag(ctx context.Context, identifier string, args []string) (*model.Worktree, []string, error) {
	ops, err := trench.ParseTagArgs(args)
	if err != nil {
		return nil, nil, a.op.Track(err)
	}
	wt, tags, err := a.service.Tag(ctx, a.cwd, identifier, ops)
	return wt, tags, a.op.Track(err)
}

// Log returns the most recent events of the current repository.
func (a *TrenchApp) Log(ctx context.Context, limit int) ([]*trench.LogEntry, error) {
	entries, err := a.service.Log(ctx, a.cwd, limit)
	return entries, a.op.Track(err)
}

// InitConfig writes a project config file to the repository root.
func (a *TrenchApp) InitConfig(force bool) (string, error) {
	path, err := a.service.InitConfig(a.cwd, force)
	return path, a.op.Track(err)
}

// Close logs the operation outcome and closes the database and log file.
func (a *TrenchApp) Close() error {
	a.logger.Debug("operation finished",
		"command", a.op.Command,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()))

	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
