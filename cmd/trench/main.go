package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trench/internal/app"
	"trench/internal/output"
	"trench/internal/trench"
)

// Global flags.
var (
	jsonOutput      bool
	porcelainOutput bool
	noColor         bool
	quiet           bool
	verbose         bool
	dryRun          bool
)

func main() {
	// Interrupting cancels the context, which kills running hook commands.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trench: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// newApp creates a TrenchApp for the working directory. The caller must
// defer app.Close(). command identifies the CLI command being run.
func newApp(command string) (*app.TrenchApp, error) {
	hookStdout := os.Stdout
	if jsonOutput || porcelainOutput {
		hookStdout = os.Stderr
	}

	a, err := app.NewTrenchApp(app.Options{
		Command:    command,
		Verbose:    verbose,
		Quiet:      quiet,
		HookStdout: hookStdout,
		Stderr:     os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	if r := a.Recovery(); r != nil && !quiet {
		fmt.Fprintf(os.Stderr, "warning: state database was written by a newer trench (schema %d > %d); moved to %s and started fresh\n",
			r.FoundVersion, r.LatestVersion, r.BackupPath)
	}
	return a, nil
}

// newPrinter builds a printer for stdout from the global flags and the
// resolved date format.
func newPrinter(a *app.TrenchApp) *output.Printer {
	format := output.FormatTable
	switch {
	case jsonOutput:
		format = output.FormatJSON
	case porcelainOutput:
		format = output.FormatPorcelain
	}
	return output.NewPrinter(os.Stdout, format, a.Settings().DateFormat, output.TerminalWidth(os.Stdout))
}

// say prints an informational line unless --quiet or a machine format is set.
func say(format string, args ...any) {
	if quiet || jsonOutput || porcelainOutput {
		return
	}
	fmt.Printf(format+"\n", args...)
}

var rootCmd = &cobra.Command{
	Use:           "trench",
	Short:         "Manage git worktrees",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput && porcelainOutput {
			return errors.New("--json and --porcelain are mutually exclusive")
		}
		if dryRun && cmd != createCmd {
			return fmt.Errorf("--dry-run is not supported by %s", cmd.Name())
		}
		if noColor || !output.IsTerminal(os.Stdout) {
			color.NoColor = true
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create BRANCH",
	Short: "Create a branch and its worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")

		a, err := newApp("create")
		if err != nil {
			return err
		}
		defer a.Close()

		p := newPrinter(a)
		result, err := a.Create(cmd.Context(), args[0], from, dryRun)
		if result == nil {
			return err
		}
		if result.Plan.DryRun {
			return p.Plan(result.Plan)
		}

		// A failed post_create hook leaves the worktree in place; report it
		// before the error.
		switch p.Format() {
		case output.FormatJSON:
			if perr := p.JSON(result.Plan); perr != nil {
				return perr
			}
		case output.FormatPorcelain:
			fmt.Println(result.Worktree.Path)
		default:
			if quiet {
				fmt.Println(result.Worktree.Path)
				break
			}
			fmt.Printf("Created worktree %s\n  Branch:  %s\n  Base:    %s\n  Path:    %s\n",
				result.Worktree.Name, result.Worktree.Branch, result.Plan.BaseBranch, result.Worktree.Path)
			if perr := p.HookSummary(result.Hooks); perr != nil {
				return perr
			}
		}
		return err
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a managed worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prune *bool
		if cmd.Flags().Changed("prune") {
			v, _ := cmd.Flags().GetBool("prune")
			prune = &v
		}

		a, err := newApp("remove")
		if err != nil {
			return err
		}
		defer a.Close()

		// A failed post_remove hook comes back with the result; the
		// worktree is already gone.
		result, err := a.Remove(cmd.Context(), args[0], prune)
		if result == nil {
			return err
		}
		if result.PruneError != nil {
			fmt.Fprintf(os.Stderr, "warning: could not delete remote branch %s: %v\n", result.Worktree.Branch, result.PruneError)
		}

		p := newPrinter(a)
		if p.Format() == output.FormatJSON {
			if perr := p.JSON(map[string]any{
				"name":           result.Worktree.Name,
				"path":           result.Worktree.Path,
				"remote_deleted": result.RemoteDeleted,
			}); perr != nil {
				return perr
			}
			return err
		}
		say("Removed worktree %s", result.Worktree.Name)
		if result.RemoteDeleted {
			say("Deleted origin/%s", result.Worktree.Branch)
		}
		if perr := p.HookSummary(result.Hooks); perr != nil {
			return perr
		}
		return err
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch NAME",
	Short: "Mark a worktree as current and print its path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("switch")
		if err != nil {
			return err
		}
		defer a.Close()

		wt, err := a.Switch(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p := newPrinter(a)
		if p.Format() == output.FormatJSON {
			return p.JSON(map[string]any{"name": wt.Name, "branch": wt.Branch, "path": wt.Path})
		}
		fmt.Println(wt.Path)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees of the current repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")

		a, err := newApp("list")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.List(cmd.Context(), tag)
		if err != nil {
			return err
		}
		return newPrinter(a).Worktrees(entries)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "Show the status of a worktree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		identifier := ""
		if len(args) > 0 {
			identifier = args[0]
		}
		entry, err := a.Status(cmd.Context(), identifier)
		if err != nil {
			return err
		}
		return newPrinter(a).Status(entry)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync NAME",
	Short: "Fetch and fast-forward a worktree to its upstream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sync")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sync(cmd.Context(), args[0])
		if result == nil || result.Upstream == "" {
			return err
		}

		p := newPrinter(a)
		if p.Format() == output.FormatJSON {
			if perr := p.JSON(map[string]any{"name": result.Worktree.Name, "upstream": result.Upstream}); perr != nil {
				return perr
			}
			return err
		}
		say("Synced %s with %s", result.Worktree.Name, result.Upstream)
		if perr := p.HookSummary(result.Hooks); perr != nil {
			return perr
		}
		return err
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag NAME [+TAG|-TAG ...]",
	Short: "Add or remove worktree tags",
	Long:  "Add tags with +name and remove them with -name. Without changes, prints the current tags.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("tag")
		if err != nil {
			return err
		}
		defer a.Close()

		wt, tags, err := a.Tag(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}

		p := newPrinter(a)
		switch p.Format() {
		case output.FormatJSON:
			if tags == nil {
				tags = []string{}
			}
			return p.JSON(map[string]any{"name": wt.Name, "tags": tags})
		case output.FormatPorcelain:
			fmt.Println(strings.Join(tags, ","))
			return nil
		}
		if len(tags) == 0 {
			say("%s has no tags", wt.Name)
			return nil
		}
		say("%s: %s", wt.Name, strings.Join(tags, ", "))
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent events of the current repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("log")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Log(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return newPrinter(a).Log(entries)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a .trench.toml scaffold to the repository root",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp("init")
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.InitConfig(force)
		if err != nil {
			return err
		}

		p := newPrinter(a)
		if p.Format() == output.FormatJSON {
			return p.JSON(map[string]any{"path": path})
		}
		say("Wrote %s", path)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Print JSON")
	pf.BoolVar(&porcelainOutput, "porcelain", false, "Print colon-delimited lines for scripts")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Only print essential output")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log debug details to stderr")
	pf.BoolVar(&dryRun, "dry-run", false, "Show what create would do without changing anything")

	createCmd.Flags().String("from", "", "Base branch (default: git.default_base or HEAD)")
	removeCmd.Flags().Bool("prune", false, "Also delete the branch on origin (default: git.auto_prune)")
	listCmd.Flags().String("tag", "", "Only show worktrees with this tag")
	logCmd.Flags().IntP("limit", "n", trench.DefaultLogLimit, "Maximum number of events to show")
	initCmd.Flags().Bool("force", false, "Overwrite an existing .trench.toml")

	// "-wip" after the worktree name is a tag removal, not a flag.
	tagCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(initCmd)
}

func execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
