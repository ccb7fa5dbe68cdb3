package repl

import (
	"bytes"
	"strings"
	"testing"

	"minidb/engine/core"
	"minidb/sqlfront"
)

func newTestSession(t *testing.T) *sqlfront.Session {
	eng, err := core.Open(t.TempDir(), core.Config{CachePages: 16})
	if err != nil {
		t.Fatalf("core.Open failed: %s", err)
	}
	t.Cleanup(func() { eng.Close() })
	return sqlfront.NewSession(eng)
}

func TestRunOneCreateTableAndSelect(t *testing.T) {
	sess := newTestSession(t)

	if err := RunOne(sess, "create table t (id int, name string)", &bytes.Buffer{}); err != nil {
		t.Fatalf("create table failed: %s", err)
	}
	if err := RunOne(sess, "insert into t values (1, 'alice')", &bytes.Buffer{}); err != nil {
		t.Fatalf("insert failed: %s", err)
	}

	var out bytes.Buffer
	if err := RunOne(sess, "select * from t", &out); err != nil {
		t.Fatalf("select failed: %s", err)
	}
	if !strings.Contains(out.String(), "alice") {
		t.Errorf("rendered output %q does not contain the inserted row", out.String())
	}
}

func TestRunScriptExecutesEveryStatement(t *testing.T) {
	sess := newTestSession(t)

	script := "create table t (id int);\ninsert into t values (1);\ninsert into t values (2);\n"
	if err := RunScript(sess, strings.NewReader(script), &bytes.Buffer{}); err != nil {
		t.Fatalf("RunScript failed: %s", err)
	}

	var out bytes.Buffer
	if err := RunOne(sess, "select * from t", &out); err != nil {
		t.Fatalf("select failed: %s", err)
	}
	if !strings.Contains(out.String(), "(2 rows)") {
		t.Errorf("rendered output %q does not report 2 rows", out.String())
	}
}

func TestRunOneReportsParseError(t *testing.T) {
	sess := newTestSession(t)
	if err := RunOne(sess, "select from", &bytes.Buffer{}); err == nil {
		t.Error("RunOne with invalid SQL did not fail")
	}
}
