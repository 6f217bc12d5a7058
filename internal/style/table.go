package style

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Align is a column alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column. Width is in cells.
type Column struct {
	Name  string
	Width int
	Align Align
}

// Table renders fixed-width rows for terminal output.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable creates a table with a header separator and two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		indent:    "  ",
		headerSep: true,
	}
}

// SetIndent sets the prefix of every line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing cells are blank; extra cells are dropped.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table, one line per row, each ending in a newline.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	cells := make([]string, len(t.columns))
	for i, c := range t.columns {
		cells[i] = t.pad(Header.Render(c.Name), c.Name, c.Width, c.Align)
	}
	t.writeLine(&sb, cells)

	if t.headerSep {
		for i, c := range t.columns {
			cells[i] = Dim.Render(strings.Repeat("─", c.Width))
		}
		t.writeLine(&sb, cells)
	}

	for _, row := range t.rows {
		for i, c := range t.columns {
			plain := truncate(stripAnsi(row[i]), c.Width)
			styled := row[i]
			if plain != stripAnsi(row[i]) {
				styled = plain
			}
			cells[i] = t.pad(styled, plain, c.Width, c.Align)
		}
		t.writeLine(&sb, cells)
	}
	return sb.String()
}

func (t *Table) writeLine(sb *strings.Builder, cells []string) {
	sb.WriteString(t.indent)
	sb.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	sb.WriteString("\n")
}

// pad aligns styled within width, measuring by plain.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := ansi.StringWidth(plain)
	if n >= width {
		return styled
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	if width <= 3 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func stripAnsi(s string) string {
	return ansi.Strip(s)
}
