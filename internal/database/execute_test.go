package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/veneer/internal/request"
	"github.com/agentic-research/veneer/internal/sqlparse"
)

func TestStreamEmitsItemsInStatementOrder(t *testing.T) {
	db := openTest(t)
	items := collect(t, db,
		"SELECT 'text' AS component; CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (1), (2); SELECT x FROM t ORDER BY x",
		newInfo())

	require.Len(t, items, 6)
	// Static select: one row, no FinishedQuery marker.
	assert.Equal(t, Row{Data: map[string]any{"component": "text"}}, items[0])
	assert.Equal(t, FinishedQuery{}, items[1])
	assert.Equal(t, FinishedQuery{}, items[2])
	assert.Equal(t, Row{Data: map[string]any{"x": int64(1)}}, items[3])
	assert.Equal(t, Row{Data: map[string]any{"x": int64(2)}}, items[4])
	assert.Equal(t, FinishedQuery{}, items[5])
}

func TestSetVariableRoundTrip(t *testing.T) {
	db := openTest(t)
	items := collect(t, db, "SET who = 'world'; SELECT $who AS who", newInfo())

	require.Len(t, items, 2)
	assert.Equal(t, Row{Data: map[string]any{"who": "world"}}, items[0])
	assert.Equal(t, FinishedQuery{}, items[1])
}

func TestSetVariableStringifiesNonText(t *testing.T) {
	db := openTest(t)
	items := collect(t, db, "SET n = 1 + 1; SELECT $n AS n", newInfo())

	require.Len(t, items, 2)
	assert.Equal(t, Row{Data: map[string]any{"n": "2"}}, items[0])
}

func TestSetVariableNullBecomesNullText(t *testing.T) {
	db := openTest(t)
	// A scalar subquery with no rows still yields one row holding NULL.
	items := collect(t, db, "SET x = (SELECT 1 WHERE 1 = 0); SELECT $x AS x", newInfo())

	require.Len(t, items, 2)
	assert.Equal(t, Row{Data: map[string]any{"x": "null"}}, items[0])
}

func TestSetVariableWithoutRowsClears(t *testing.T) {
	db := openTest(t)
	info := newInfo()
	info.Get["x"] = request.Single("seed")

	file := &sqlparse.File{Name: "t.sql", Statements: []sqlparse.Statement{
		sqlparse.SetVariable{
			Target: request.GetOrPostParam{Name: "x"},
			Value:  sqlparse.StmtWithParams{Query: "SELECT 1 WHERE 1 = 0"},
		},
	}}
	for range db.Stream(context.Background(), file, info) {
	}

	_, ok := info.Get["x"]
	assert.False(t, ok, "the variable should have been cleared")
}

func TestSetVariableListFromJSONColumn(t *testing.T) {
	db := openTest(t)
	info := newInfo()
	file := &sqlparse.File{Name: "t.sql", Statements: []sqlparse.Statement{
		sqlparse.StmtWithParams{Query: "CREATE TABLE tags (v JSON)"},
		sqlparse.StmtWithParams{Query: `INSERT INTO tags VALUES ('["a", 1]')`},
		sqlparse.SetVariable{
			Target: request.GetOrPostParam{Name: "x"},
			Value:  sqlparse.StmtWithParams{Query: "SELECT v FROM tags"},
		},
	}}
	for range db.Stream(context.Background(), file, info) {
	}

	v, ok := info.Get["x"]
	require.True(t, ok)
	assert.True(t, v.IsList())
	assert.Equal(t, []string{"a", "1"}, v.Strings())
}

func TestJSONColumnsParseIntoStructuredValues(t *testing.T) {
	db := openTest(t)
	items := collect(t, db,
		`CREATE TABLE j (data JSON); INSERT INTO j VALUES ('{"a": [1, 2]}'); SELECT data FROM j`,
		newInfo())

	require.Len(t, items, 4)
	row, ok := items[2].(Row)
	require.True(t, ok, "expected a row, got %#v", items[2])
	assert.Equal(t, map[string]any{"a": []any{int64(1), int64(2)}}, row.Data["data"])
}

func TestDriverErrorEndsStatementNotList(t *testing.T) {
	db := openTest(t)
	items := collect(t, db, "SELECT * FROM missing_table; SELECT 'ok' AS x", newInfo())

	require.Len(t, items, 2)
	e, ok := items[0].(Error)
	require.True(t, ok)
	assert.ErrorContains(t, e.Err, "failed to execute SQL statement")
	assert.ErrorContains(t, e.Err, "missing_table")
	assert.Equal(t, Row{Data: map[string]any{"x": "ok"}}, items[1])
}

func TestParseErrorEmittedInPlace(t *testing.T) {
	db := openTest(t)
	items := collect(t, db, "SET bad 3; SELECT 'ok' AS x", newInfo())

	require.Len(t, items, 2)
	e, ok := items[0].(Error)
	require.True(t, ok)
	assert.ErrorContains(t, e.Err, "expected = after the variable name")
	assert.Equal(t, Row{Data: map[string]any{"x": "ok"}}, items[1])
}

func TestMissingBasicAuthAbortsTheList(t *testing.T) {
	db := openTest(t)
	items := collect(t, db, "SELECT veneer.basic_auth_username() AS u; SELECT 'after' AS x", newInfo())

	require.Len(t, items, 1)
	e, ok := items[0].(Error)
	require.True(t, ok)
	assert.Equal(t, 401, statusOf(e.Err))
}

func TestCancelledConsumerStopsTheStream(t *testing.T) {
	db := openTest(t)
	file := sqlparse.Parse("test.sql",
		"WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c WHERE x < 10000) SELECT x FROM c",
		sqlparse.SQLite)

	ctx, cancel := context.WithCancel(context.Background())
	ch := db.Stream(ctx, file, newInfo())
	<-ch
	cancel()

	drained := 0
	for range ch {
		drained++
	}
	assert.Less(t, drained, 5000, "the producer should stop soon after cancellation")
}
