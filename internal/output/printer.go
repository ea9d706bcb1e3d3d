package output

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"trench/internal/hooks"
	"trench/internal/model"
	"trench/internal/trench"
)

// Format selects how results are rendered.
type Format int

const (
	FormatTable Format = iota
	FormatJSON
	FormatPorcelain
)

var (
	colorManaged   = color.New(color.FgGreen)
	colorUnmanaged = color.New(color.FgHiBlack)
	colorAhead     = color.New(color.FgCyan)
	colorBehind    = color.New(color.FgYellow)
	colorDirty     = color.New(color.FgRed)
	colorMissing   = color.New(color.FgRed, color.Bold)
	colorCurrent   = color.New(color.FgHiMagenta)
)

// Printer renders service results to a writer.
type Printer struct {
	w          io.Writer
	format     Format
	dateFormat string
	width      int
}

// NewPrinter creates a Printer. dateFormat is a Go time layout used in tables;
// width caps table lines (0 for no cap).
func NewPrinter(w io.Writer, format Format, dateFormat string, width int) *Printer {
	if dateFormat == "" {
		dateFormat = time.DateTime
	}
	return &Printer{w: w, format: format, dateFormat: dateFormat, width: width}
}

// Format returns the configured output format.
func (p *Printer) Format() Format {
	return p.format
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// Worktrees renders list entries.
func (p *Printer) Worktrees(entries []*trench.Entry) error {
	switch p.format {
	case FormatJSON:
		if entries == nil {
			entries = []*trench.Entry{}
		}
		return p.JSON(entries)
	case FormatPorcelain:
		return p.porcelain(entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(p.w, "No worktrees.")
		return err
	}
	t := NewTable("NAME", "BRANCH", "STATUS", "SYNC", "TAGS", "PATH").MaxWidth(p.width)
	for _, e := range entries {
		t.Row(
			nameCell(e),
			Cell{Text: e.Branch},
			statusCell(e),
			syncCell(e),
			Cell{Text: strings.Join(e.Tags, ",")},
			Cell{Text: e.Path},
		)
	}
	return t.Render(p.w)
}

// Status renders a single entry in detail.
func (p *Printer) Status(e *trench.Entry) error {
	switch p.format {
	case FormatJSON:
		return p.JSON(e)
	case FormatPorcelain:
		return p.porcelain([]*trench.Entry{e})
	}

	base := "-"
	if e.BaseBranch != nil {
		base = *e.BaseBranch
	}
	lines := [][2]string{
		{"Name", nameCell(e).Sprint()},
		{"Branch", e.Branch},
		{"Base", base},
		{"Path", e.Path},
		{"Status", statusCell(e).Sprint()},
		{"Sync", syncCell(e).Sprint()},
		{"Tags", strings.Join(e.Tags, ", ")},
	}
	if e.CreatedAt != nil {
		lines = append(lines, [2]string{"Created", e.CreatedAt.Local().Format(p.dateFormat)})
	}
	if e.LastAccessed != nil {
		lines = append(lines, [2]string{"Accessed", e.LastAccessed.Local().Format(p.dateFormat)})
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(p.w, "%-9s %s\n", l[0]+":", l[1]); err != nil {
			return err
		}
	}
	return nil
}

type logJSON struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	WorktreeID *int64         `json:"worktree_id,omitempty"`
	Worktree   string         `json:"worktree,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Log renders events newest first.
func (p *Printer) Log(entries []*trench.LogEntry) error {
	switch p.format {
	case FormatJSON:
		out := make([]logJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, logJSON{
				ID:         e.Event.ID,
				EventType:  e.Event.EventType,
				WorktreeID: e.Event.WorktreeID,
				Worktree:   e.WorktreeName,
				Payload:    e.Event.Payload,
				CreatedAt:  e.Event.CreatedAt,
			})
		}
		return p.JSON(out)
	case FormatPorcelain:
		for _, e := range entries {
			if _, err := fmt.Fprintln(p.w, porcelainLine(
				strconv.FormatInt(e.Event.CreatedAt.Unix(), 10),
				e.Event.EventType,
				e.WorktreeName,
			)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(p.w, "No events.")
		return err
	}
	t := NewTable("TIME", "EVENT", "WORKTREE", "DETAILS").MaxWidth(p.width)
	for _, e := range entries {
		t.Row(
			Cell{Text: e.Event.CreatedAt.Local().Format(p.dateFormat)},
			Cell{Text: e.Event.EventType, Color: eventColor(e.Event.EventType)},
			Cell{Text: e.WorktreeName},
			Cell{Text: details(e.Event.Payload)},
		)
	}
	return t.Render(p.w)
}

// Plan renders a create plan.
func (p *Printer) Plan(plan *trench.CreatePlan) error {
	if p.format == FormatJSON {
		return p.JSON(plan)
	}
	if p.format == FormatPorcelain {
		_, err := fmt.Fprintln(p.w, porcelainLine(plan.Name, plan.Branch, plan.WorktreePath, plan.BaseBranch))
		return err
	}

	hookNames := "(none)"
	if len(plan.Hooks) > 0 {
		names := make([]string, len(plan.Hooks))
		for i, h := range plan.Hooks {
			names[i] = h.String()
		}
		hookNames = strings.Join(names, ", ")
	}
	_, err := fmt.Fprintf(p.w, "Dry run, no changes made\n\n  Branch:    %s\n  Base:      %s\n  Worktree:  %s\n  Hooks:     %s\n",
		plan.Branch, plan.BaseBranch, plan.WorktreePath, hookNames)
	return err
}

// HookSummary writes one line per executed hook step.
func (p *Printer) HookSummary(results []*hooks.Result) error {
	if p.format != FormatTable {
		return nil
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Copy != nil {
			if _, err := fmt.Fprintf(p.w, "  %s: copied %d file(s)\n", r.Event, len(r.Copy.Copied)); err != nil {
				return err
			}
		}
		if r.Run != nil {
			if _, err := fmt.Fprintf(p.w, "  %s: ran %d command(s)\n", r.Event, len(r.Run.Executed)); err != nil {
				return err
			}
		}
		if r.Shell != nil {
			if _, err := fmt.Fprintf(p.w, "  %s: shell exited %d\n", r.Event, r.Shell.ExitCode); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Printer) porcelain(entries []*trench.Entry) error {
	for _, e := range entries {
		line := porcelainLine(
			e.Name,
			e.Branch,
			e.Path,
			strconv.FormatBool(e.Managed),
			optionalInt(e.Ahead),
			optionalInt(e.Behind),
			optionalInt(e.Dirty),
		)
		if _, err := fmt.Fprintln(p.w, line); err != nil {
			return err
		}
	}
	return nil
}

// porcelainLine joins fields with ':'. Fields never contain newlines.
func porcelainLine(fields ...string) string {
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "\n", " ")
	}
	return strings.Join(fields, ":")
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func nameCell(e *trench.Entry) Cell {
	switch {
	case e.Current:
		return Cell{Text: "* " + e.Name, Color: colorCurrent}
	case e.Managed:
		return Cell{Text: e.Name, Color: colorManaged}
	default:
		return Cell{Text: e.Name, Color: colorUnmanaged}
	}
}

func statusCell(e *trench.Entry) Cell {
	switch {
	case e.Missing:
		return Cell{Text: "missing", Color: colorMissing}
	case e.Dirty == nil:
		return Cell{Text: "-"}
	case *e.Dirty > 0:
		return Cell{Text: fmt.Sprintf("%d dirty", *e.Dirty), Color: colorDirty}
	default:
		return Cell{Text: "clean"}
	}
}

func syncCell(e *trench.Entry) Cell {
	if e.Ahead == nil || e.Behind == nil {
		return Cell{Text: "-"}
	}
	text := fmt.Sprintf("+%d -%d", *e.Ahead, *e.Behind)
	switch {
	case *e.Behind > 0:
		return Cell{Text: text, Color: colorBehind}
	case *e.Ahead > 0:
		return Cell{Text: text, Color: colorAhead}
	}
	return Cell{Text: text}
}

func eventColor(eventType string) *color.Color {
	switch eventType {
	case model.EventCreated:
		return colorManaged
	case model.EventRemoved:
		return colorDirty
	case model.EventSynced:
		return colorAhead
	}
	return nil
}

// details formats an event payload without the operation id.
func details(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "op_id" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, payload[k])
	}
	return strings.Join(parts, " ")
}
