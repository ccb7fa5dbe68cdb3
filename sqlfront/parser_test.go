package sqlfront

import (
	"fmt"
	"testing"

	"minidb/types"
)

func TestParseFails(t *testing.T) {
	failed := []string{
		"create table",
		"create table t",
		"select from t",
		"insert t values (1)",
		"update t 1",
		"delete t",
		"select * from t where",
		"select * from t;;",
	}
	for i, src := range failed {
		if _, err := NewParser(src).Parse(); err == nil {
			t.Errorf("Parse(%q) did not fail", failed[i])
		}
	}
}

func TestParseCreateTable(t *testing.T) {
	stmt, err := NewParser("create table t (id int, name string not null, ok boolean)").Parse()
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	ct, ok := stmt.(CreateTable)
	if !ok {
		t.Fatalf("Parse returned %T, want CreateTable", stmt)
	}
	if ct.Table != "t" {
		t.Errorf("got table %q, want %q", ct.Table, "t")
	}
	want := []ColumnDef{
		{Name: "id", Type: types.INT, Nullable: true},
		{Name: "name", Type: types.STRING, Nullable: false},
		{Name: "ok", Type: types.BOOLEAN, Nullable: true},
	}
	if fmt.Sprint(ct.Columns) != fmt.Sprint(want) {
		t.Errorf("got columns %v, want %v", ct.Columns, want)
	}
}

func TestParseSelectWhereOrderLimit(t *testing.T) {
	stmt, err := NewParser("select id, name from t where id = 5 order by name desc limit 10").Parse()
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	sel, ok := stmt.(Select)
	if !ok {
		t.Fatalf("Parse returned %T, want Select", stmt)
	}
	if len(sel.Columns) != 2 || sel.Columns[0] != "id" || sel.Columns[1] != "name" {
		t.Errorf("got columns %v", sel.Columns)
	}
	if len(sel.OrderBy) != 1 || sel.OrderBy[0].Column != "name" || !sel.OrderBy[0].Desc {
		t.Errorf("got order by %v", sel.OrderBy)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Errorf("got limit %v, want 10", sel.Limit)
	}
	bin, ok := sel.Where.(BinaryExpr)
	if !ok || bin.Op != OpEq {
		t.Errorf("got where %#v, want an equality", sel.Where)
	}
}

func TestParseBetween(t *testing.T) {
	stmt, err := NewParser("select * from t where id between 1 and 10").Parse()
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	sel := stmt.(Select)
	if _, ok := sel.Where.(Between); !ok {
		t.Errorf("got where %#v, want Between", sel.Where)
	}
}

func TestParseExplain(t *testing.T) {
	stmt, err := NewParser("explain physical select * from t").Parse()
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	ex, ok := stmt.(Explain)
	if !ok || !ex.Physical {
		t.Errorf("got %#v, want a physical Explain", stmt)
	}
}

func TestSplitStatements(t *testing.T) {
	src := "insert into t values ('a;b'); select * from t; "
	got := SplitStatements(src)
	if len(got) != 2 {
		t.Fatalf("SplitStatements(%q) = %v, want 2 statements", src, got)
	}
	if got[0] != "insert into t values ('a;b')" {
		t.Errorf("got first statement %q", got[0])
	}
}
