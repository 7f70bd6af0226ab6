package aggregate

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/eml-to-csv/model"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCombineUnifiesHeaders(t *testing.T) {
	dir := t.TempDir()
	file1 := writeCSV(t, dir, "file1.csv", "id,name\n1,alpha\n2,beta\n")
	file2 := writeCSV(t, dir, "file2.csv", "id,amount\n3,9.50\n")

	table, report, err := New(nil, nil).Combine([]string{file1, file2})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "amount"}, table.Header)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, []string{"1", "alpha", ""}, table.Rows[0].Record(table.Header))
	assert.Equal(t, []string{"2", "beta", ""}, table.Rows[1].Record(table.Header))
	assert.Equal(t, []string{"3", "", "9.50"}, table.Rows[2].Record(table.Header))

	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, []string{"amount"}, report.Files[1].NewColumns)

	out := filepath.Join(dir, "combined.csv")
	require.NoError(t, WriteFile(out, table))
	assert.Equal(t, [][]string{
		{"id", "name", "amount"},
		{"1", "alpha", ""},
		{"2", "beta", ""},
		{"3", "", "9.50"},
	}, readCSV(t, out))
}

func TestCombineHeaderOrderFollowsFirstSeen(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "c,a\n1,2\n")
	b := writeCSV(t, dir, "b.csv", "b,a,d,c\n3,4,5,6\n")

	table, _, err := New(nil, nil).Combine([]string{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b", "d"}, table.Header)
	assert.Equal(t, []string{"6", "4", "3", "5"}, table.Rows[1].Record(table.Header))
}

func TestCombineQuotedFields(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "q.csv", "id,comment\n1,\"hello, world\"\n2,\"line one\nline two\"\n3,\"she said \"\"hi\"\"\"\n")

	table, _, err := New(nil, nil).Combine([]string{path})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "hello, world", table.Rows[0]["comment"])
	assert.Equal(t, "line one\nline two", table.Rows[1]["comment"])
	assert.Equal(t, `she said "hi"`, table.Rows[2]["comment"])
}

func TestCombineSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "good.csv", "id\n1\n")
	empty := writeCSV(t, dir, "empty.csv", "")
	broken := writeCSV(t, dir, "broken.csv", "id,name\n1,\"unterminated\n")
	missing := filepath.Join(dir, "missing.csv")

	table, report, err := New(nil, nil).Combine([]string{empty, good, broken, missing})
	require.NoError(t, err)

	assert.Equal(t, []string{"id"}, table.Header)
	assert.Len(t, table.Rows, 1)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 3, report.Skipped)

	require.Len(t, report.Files, 4)
	assert.ErrorIs(t, report.Files[0].Err, ErrEmptyFile)
	assert.False(t, report.Files[1].Skipped)
	assert.True(t, report.Files[2].Skipped)
	assert.ErrorIs(t, report.Files[3].Err, os.ErrNotExist)
}

func TestCombineNoInput(t *testing.T) {
	_, _, err := New(nil, nil).Combine(nil)

	var aggErr *AggregationError
	require.True(t, errors.As(err, &aggErr))
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestCombineNoUsableFiles(t *testing.T) {
	dir := t.TempDir()
	empty := writeCSV(t, dir, "empty.csv", "")

	_, report, err := New(nil, nil).Combine([]string{empty})

	var aggErr *AggregationError
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, 1, aggErr.Files)
	assert.ErrorIs(t, err, ErrNoUsableFiles)
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Equal(t, 1, report.Skipped)
}

func TestCombineHeaderOnlyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "h.csv", "id,name\n")

	table, report, err := New(nil, nil).Combine([]string{path})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, table.Header)
	assert.Empty(t, table.Rows)
	assert.Equal(t, 1, report.Added)
}

func TestCombineRaggedRows(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "r.csv", "a,b\n1\n2,3,4\n")

	table, report, err := New(nil, nil).Combine([]string{path})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", ""}, table.Rows[0].Record(table.Header))
	assert.Equal(t, []string{"2", "3"}, table.Rows[1].Record(table.Header))
	assert.Equal(t, 1, report.Files[0].Truncated)
}

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{name: "bom and spaces", raw: []string{"\ufeffid", " name "}, want: []string{"id", "name"}},
		{name: "blank names", raw: []string{"id", "", " "}, want: []string{"id", "column_2", "column_3"}},
		{name: "duplicates", raw: []string{"a", "a", "a_2", "a"}, want: []string{"a", "a_2", "a_2_2", "a_3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanHeader(tt.raw))
		})
	}
}

func TestHeaderOrderedSet(t *testing.T) {
	h := NewHeader()
	assert.True(t, h.Add("x"))
	assert.False(t, h.Add("x"))
	assert.Equal(t, []string{"y", "z"}, h.Merge([]string{"y", "x", "z"}))

	i, ok := h.Index("z")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, 3, h.Len())

	names := h.Names()
	names[0] = "mutated"
	assert.Equal(t, []string{"x", "y", "z"}, h.Names())
}

func TestWriteFileNilTable(t *testing.T) {
	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "x.csv"), nil))
}

func TestRowRecord(t *testing.T) {
	row := model.Row{"b": "2"}
	assert.Equal(t, []string{"", "2"}, row.Record([]string{"a", "b"}))
}
