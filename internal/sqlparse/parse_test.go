package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/veneer/internal/request"
)

func parseOne(t *testing.T, source string, dialect Dialect) Statement {
	t.Helper()
	f := Parse("test.sql", source, dialect)
	require.Len(t, f.Statements, 1)
	return f.Statements[0]
}

func TestSplitRespectsStringsAndComments(t *testing.T) {
	src := `SELECT ';' AS x;
-- a comment with ; inside
SELECT 2 AS y; /* also ; here */ SELECT 3 AS z`
	f := Parse("test.sql", src, SQLite)
	require.Len(t, f.Statements, 3)
	for i, want := range []any{";", int64(2), int64(3)} {
		static, ok := f.Statements[i].(StaticSelect)
		require.True(t, ok, "statement %d", i+1)
		require.Len(t, static.Row, 1)
		for _, got := range static.Row {
			assert.Equal(t, want, got)
		}
	}
}

func TestEmptyStatementsAreSkipped(t *testing.T) {
	f := Parse("test.sql", ";;  ;\n-- only a comment\n;SELECT 1 AS x;", SQLite)
	require.Len(t, f.Statements, 1)
}

func TestVariablePlaceholdersSQLite(t *testing.T) {
	stmt, ok := parseOne(t, "SELECT * FROM t WHERE id = $id AND name = :name", SQLite).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?", stmt.Query)
	require.Len(t, stmt.Params, 2)
	assert.Equal(t, request.GetOrPostParam{Name: "id"}, stmt.Params[0])
	assert.Equal(t, request.PostParam{Name: "name"}, stmt.Params[1])
}

func TestVariablePlaceholdersPostgres(t *testing.T) {
	stmt, ok := parseOne(t, "SELECT * FROM t WHERE id = $id AND name = :name", Postgres).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM t WHERE id = $1 AND name = $2", stmt.Query)
}

func TestPostgresCastIsNotAVariable(t *testing.T) {
	stmt, ok := parseOne(t, "SELECT created::date AS d FROM t WHERE id = :id", Postgres).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, "SELECT created::date AS d FROM t WHERE id = $1", stmt.Query)
	require.Len(t, stmt.Params, 1)
	assert.Equal(t, request.PostParam{Name: "id"}, stmt.Params[0])
}

func TestVariablesInsideStringsAreLeftAlone(t *testing.T) {
	stmt, ok := parseOne(t, `SELECT '$price' AS label, "col:on" FROM t`, SQLite).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, `SELECT '$price' AS label, "col:on" FROM t`, stmt.Query)
	assert.Empty(t, stmt.Params)
}

func TestPseudoFunctions(t *testing.T) {
	src := "SELECT veneer.cookie('session') AS s, veneer.header('User-Agent') AS ua, " +
		"veneer.environment_variable('HOME') AS h, veneer.basic_auth_username() AS u, " +
		"veneer.basic_auth_password() AS p"
	stmt, ok := parseOne(t, src, SQLite).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, "SELECT ? AS s, ? AS ua, ? AS h, ? AS u, ? AS p", stmt.Query)
	require.Len(t, stmt.Params, 5)
	assert.Equal(t, request.CookieParam{Name: "session"}, stmt.Params[0])
	assert.Equal(t, request.HeaderParam{Name: "User-Agent"}, stmt.Params[1])
	assert.Equal(t, request.EnvParam{Name: "HOME"}, stmt.Params[2])
	assert.Equal(t, request.BasicAuthUsername{}, stmt.Params[3])
	assert.Equal(t, request.BasicAuthPassword{}, stmt.Params[4])
}

func TestUnknownPseudoFunctionIsAParseError(t *testing.T) {
	pe, ok := parseOne(t, "SELECT veneer.magic('x') AS m", SQLite).(ParseError)
	require.True(t, ok)
	assert.ErrorContains(t, pe.Err, "unknown function veneer.magic")
	assert.ErrorContains(t, pe.Err, "test.sql: statement 1")
}

func TestSetVariableForms(t *testing.T) {
	set, ok := parseOne(t, "SET greeting = 'Hello ' || $name", SQLite).(SetVariable)
	require.True(t, ok)
	assert.Equal(t, request.GetOrPostParam{Name: "greeting"}, set.Target)
	assert.Equal(t, "SELECT 'Hello ' || ?", set.Value.Query)
	require.Len(t, set.Value.Params, 1)
	assert.Equal(t, request.GetOrPostParam{Name: "name"}, set.Value.Params[0])

	set, ok = parseOne(t, "set $n = 1 + 1", SQLite).(SetVariable)
	require.True(t, ok)
	assert.Equal(t, request.GetOrPostParam{Name: "n"}, set.Target)
	assert.Equal(t, "SELECT 1 + 1", set.Value.Query)

	set, ok = parseOne(t, "SET :flash = 'saved'", SQLite).(SetVariable)
	require.True(t, ok)
	assert.Equal(t, request.PostParam{Name: "flash"}, set.Target)
}

func TestSetAfterLeadingCommentIsStillSet(t *testing.T) {
	_, ok := parseOne(t, "-- remember the user\nSET user = $id", SQLite).(SetVariable)
	assert.True(t, ok)
}

func TestMalformedSetIsAParseError(t *testing.T) {
	pe, ok := parseOne(t, "SET = 3", SQLite).(ParseError)
	require.True(t, ok)
	assert.ErrorContains(t, pe.Err, "expected a variable name after SET")

	pe, ok = parseOne(t, "SET x 3", SQLite).(ParseError)
	require.True(t, ok)
	assert.ErrorContains(t, pe.Err, "expected = after the variable name in SET x")
}

func TestStaticSelect(t *testing.T) {
	static, ok := parseOne(t, `SELECT 'http_header' AS component, '/' AS "Location"`, SQLite).(StaticSelect)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"component": "http_header", "Location": "/"}, static.Row)
}

func TestStaticSelectLiteralTypes(t *testing.T) {
	static, ok := parseOne(t, "SELECT 1 AS a, -2.5 AS b, true AS c, null AS d, 'it''s' AS e", SQLite).(StaticSelect)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"a": int64(1),
		"b": -2.5,
		"c": true,
		"d": nil,
		"e": "it's",
	}, static.Row)
}

func TestSelectWithTableIsNotStatic(t *testing.T) {
	_, ok := parseOne(t, "SELECT 'x' AS a FROM t", SQLite).(StmtWithParams)
	assert.True(t, ok)

	_, ok = parseOne(t, "SELECT count(*) AS n FROM t", SQLite).(StmtWithParams)
	assert.True(t, ok)
}

func TestSelectWithPlaceholderIsNotStatic(t *testing.T) {
	stmt, ok := parseOne(t, "SELECT $msg AS message", SQLite).(StmtWithParams)
	require.True(t, ok)
	assert.Equal(t, "SELECT ? AS message", stmt.Query)
}

func TestUnterminatedStringReportsPositionAndContinuesNowhere(t *testing.T) {
	f := Parse("bad.sql", "SELECT 'a' AS x; SELECT 'oops", SQLite)
	require.Len(t, f.Statements, 2)
	_, ok := f.Statements[0].(StaticSelect)
	assert.True(t, ok)
	pe, ok := f.Statements[1].(ParseError)
	require.True(t, ok)
	assert.ErrorContains(t, pe.Err, "unterminated string")
	assert.ErrorContains(t, pe.Err, "bad.sql: statement 2")
}

func TestStatementsAfterAParseErrorStillParse(t *testing.T) {
	f := Parse("test.sql", "SET x 3; SELECT 'ok' AS y", SQLite)
	require.Len(t, f.Statements, 2)
	_, ok := f.Statements[0].(ParseError)
	assert.True(t, ok)
	static, ok := f.Statements[1].(StaticSelect)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"y": "ok"}, static.Row)
}
