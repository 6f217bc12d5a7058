package style

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestNewTable_Defaults(t *testing.T) {
	tbl := NewTable(Column{Name: "Channel", Width: 12}, Column{Name: "Repo", Width: 20})
	assert.Len(t, tbl.columns, 2)
	assert.True(t, tbl.headerSep)
	assert.Equal(t, "  ", tbl.indent)
	assert.Same(t, tbl, tbl.SetIndent(""))
	assert.Same(t, tbl, tbl.SetHeaderSeparator(false))
}

func TestTable_AddRowPadsAndDrops(t *testing.T) {
	tbl := NewTable(Column{Name: "A", Width: 5}, Column{Name: "B", Width: 5})
	tbl.AddRow("only")
	tbl.AddRow("a", "b", "extra")
	assert.Equal(t, [][]string{{"only", ""}, {"a", "b"}}, tbl.rows)
}

func TestTable_Render(t *testing.T) {
	tests := []struct {
		name      string
		sep       bool
		rows      [][]string
		wantLines int
	}{
		{"no rows", true, nil, 2},
		{"rows without separator", false, [][]string{{"C1", "/workspace/a"}, {"C2", "/workspace/b"}}, 3},
		{"rows with separator", true, [][]string{{"C1", "/workspace/a"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(Column{Name: "Channel", Width: 8}, Column{Name: "Repo", Width: 16})
			tbl.SetIndent("").SetHeaderSeparator(tt.sep)
			for _, r := range tt.rows {
				tbl.AddRow(r...)
			}
			got := lines(tbl.Render())
			require.Len(t, got, tt.wantLines)
			if tt.sep {
				assert.Contains(t, stripAnsi(got[1]), "─")
			}
			for i, r := range tt.rows {
				row := stripAnsi(got[len(got)-len(tt.rows)+i])
				assert.True(t, strings.HasPrefix(row, r[0]), row)
				assert.Contains(t, row, r[1])
			}
		})
	}
}

func TestTable_RenderEmpty(t *testing.T) {
	assert.Empty(t, NewTable().Render())
}

func TestTable_RenderIndent(t *testing.T) {
	tbl := NewTable(Column{Name: "A", Width: 5}).SetIndent(">>>")
	tbl.AddRow("x")
	for _, line := range lines(tbl.Render()) {
		assert.True(t, strings.HasPrefix(line, ">>>"), line)
	}
}

func TestTable_RenderTruncates(t *testing.T) {
	tbl := NewTable(Column{Name: "Repo", Width: 8}).SetIndent("").SetHeaderSeparator(false)
	tbl.AddRow("/workspace/very/deep/project")

	row := strings.TrimSpace(stripAnsi(lines(tbl.Render())[1]))
	assert.True(t, strings.HasSuffix(row, "..."), row)
	assert.LessOrEqual(t, len(row), 8)
}

func TestTable_Pad(t *testing.T) {
	tbl := &Table{}
	tests := []struct {
		name  string
		text  string
		width int
		align Align
		want  string
	}{
		{"left", "hi", 10, AlignLeft, "hi        "},
		{"right", "hi", 10, AlignRight, "        hi"},
		{"center", "hi", 10, AlignCenter, "    hi    "},
		{"exact", "hello", 5, AlignLeft, "hello"},
		{"overflow", "toolong", 3, AlignLeft, "toolong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.pad(tt.text, tt.text, tt.width, tt.align))
		})
	}
}

func TestStripAnsi(t *testing.T) {
	assert.Equal(t, "bold red", stripAnsi("\x1b[1m\x1b[31mbold red\x1b[0m"))
	assert.Equal(t, "beforegreenafter", stripAnsi("before\x1b[32mgreen\x1b[0mafter"))
	assert.Equal(t, "", stripAnsi(""))
}
