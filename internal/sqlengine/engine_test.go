package sqlengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesTable(t *testing.T) *Table {
	t.Helper()
	table, err := ParseTable([]byte(`[
		{"region": "north", "amount": 120, "rate": 0.5},
		{"region": "south", "amount": 80, "rate": 1.5},
		{"region": "north", "amount": 30, "active": true}
	]`))
	require.NoError(t, err)
	return table
}

func TestParseTable_Records(t *testing.T) {
	table := salesTable(t)
	assert.Equal(t, []string{"amount", "rate", "region", "active"}, table.Columns)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []any{int64(120), 0.5, "north", nil}, table.Rows[0])
	assert.Equal(t, []any{int64(30), nil, "north", int64(1)}, table.Rows[2])
}

func TestParseTable_ColumnsRows(t *testing.T) {
	table, err := ParseTable([]byte(`{"columns": ["id", "tags"], "rows": [[1, ["a"]], [2, null]]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "tags"}, table.Columns)
	assert.Equal(t, []any{int64(1), `["a"]`}, table.Rows[0])
}

func TestParseTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"scalar", `42`},
		{"list of scalars", `[1, 2]`},
		{"missing columns", `{"rows": []}`},
		{"ragged rows", `{"columns": ["a"], "rows": [[1, 2]]}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestEngine_Query(t *testing.T) {
	e := New(0)
	res, err := e.Query(context.Background(), `
		-- totals per region
		SELECT region, SUM(amount) AS total
		FROM sales
		GROUP BY region
		ORDER BY region;
	`, map[string]*Table{"sales": salesTable(t)})
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "total"}, res.Columns)
	assert.Equal(t, [][]any{{"north", int64(150)}, {"south", int64(80)}}, res.Rows)
	assert.False(t, res.Truncated)
	assert.Equal(t, []map[string]any{
		{"region": "north", "total": int64(150)},
		{"region": "south", "total": int64(80)},
	}, res.Records())
}

func TestEngine_WithAndJoin(t *testing.T) {
	regions, err := ParseTable([]byte(`{"columns": ["region", "manager"], "rows": [["north", "ana"], ["south", "bo"]]}`))
	require.NoError(t, err)

	res, err := New(0).Query(context.Background(), `
		WITH big AS (SELECT * FROM sales WHERE amount > 50)
		SELECT r.manager FROM big b JOIN regions r ON r.region = b.region ORDER BY r.manager
	`, map[string]*Table{"sales": salesTable(t), "regions": regions})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"ana"}, {"bo"}}, res.Rows)
}

func TestEngine_RejectsWrites(t *testing.T) {
	e := New(0)
	tables := map[string]*Table{"sales": salesTable(t)}

	_, err := e.Query(context.Background(), "DELETE FROM sales", tables)
	assert.ErrorIs(t, err, ErrNotReadOnly)

	_, err = e.Query(context.Background(), "SELECT 1; DROP TABLE sales", tables)
	assert.ErrorIs(t, err, ErrMultipleStatements)

	_, err = e.Query(context.Background(), "  -- nothing\n", tables)
	assert.Error(t, err)
}

func TestEngine_Truncates(t *testing.T) {
	res, err := New(2).Query(context.Background(), "SELECT * FROM sales", map[string]*Table{"sales": salesTable(t)})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestEngine_QueryErrors(t *testing.T) {
	e := New(0)

	_, err := e.Query(context.Background(), "SELECT missing FROM sales", map[string]*Table{"sales": salesTable(t)})
	assert.Error(t, err)

	_, err = e.Query(context.Background(), "SELECT 1", map[string]*Table{"bad name": salesTable(t)})
	assert.Error(t, err)

	_, err = e.Query(context.Background(), "SELECT 1", map[string]*Table{"empty": {}})
	assert.Error(t, err)
}
