// Package output renders service results as aligned tables, JSON or
// colon-delimited porcelain lines.
package output

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const columnGap = 2

// Cell is one table cell. Color, when set, is applied after padding so
// escape codes never affect alignment.
type Cell struct {
	Text  string
	Color *color.Color
}

// Sprint returns the cell text with its color applied.
func (c Cell) Sprint() string {
	if c.Color == nil {
		return c.Text
	}
	return c.Color.Sprint(c.Text)
}

// Table is a column-aligned text table.
type Table struct {
	headers  []string
	rows     [][]Cell
	maxWidth int
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends a row. Missing cells are blank; extra cells are dropped.
func (t *Table) Row(cells ...Cell) *Table {
	row := make([]Cell, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return t
}

// MaxWidth caps the rendered line width; the widest columns shrink first and
// truncated cells end in '~'. Zero disables the cap.
func (t *Table) MaxWidth(width int) *Table {
	t.maxWidth = width
	return t
}

// Render writes the table. A table without rows renders nothing.
func (t *Table) Render(w io.Writer) error {
	if len(t.rows) == 0 {
		return nil
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(c.Text))
		}
	}
	t.shrink(widths)

	var b strings.Builder
	header := make([]Cell, len(t.headers))
	bold := color.New(color.Bold)
	for i, h := range t.headers {
		header[i] = Cell{Text: h, Color: bold}
	}
	writeLine(&b, header, widths)
	for _, row := range t.rows {
		writeLine(&b, row, widths)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) shrink(widths []int) {
	if t.maxWidth <= 0 {
		return
	}
	available := t.maxWidth - columnGap*(len(widths)-1)
	for sum(widths) > available {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] == 0 {
			return
		}
		widths[widest]--
	}
}

func writeLine(b *strings.Builder, cells []Cell, widths []int) {
	first := true
	for i, c := range cells {
		w := widths[i]
		if w == 0 {
			continue
		}
		if !first {
			b.WriteString(strings.Repeat(" ", columnGap))
		}
		first = false

		text := truncate(c.Text, w)
		if i < len(cells)-1 {
			text += strings.Repeat(" ", w-utf8.RuneCountInString(text))
		}
		if c.Color != nil {
			text = c.Color.Sprint(text)
		}
		b.WriteString(text)
	}
	b.WriteByte('\n')
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width == 1 {
		return string(runes[:1])
	}
	return string(runes[:width-1]) + "~"
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

// TerminalWidth returns the column count of f when it is a terminal, else 0.
func TerminalWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
