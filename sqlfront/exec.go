package sqlfront

import (
	"fmt"
	"sort"

	"minidb/catalog"
	"minidb/engine/core"
	"minidb/errs"
	"minidb/txn"
	"minidb/types"
)

// Result is what Execute returns for any statement: Columns/Rows for a
// SELECT or EXPLAIN, or a plain Message for everything else (matching the
// REPL's need to render either a result set or a status line).
type Result struct {
	Columns []string
	Rows    [][]types.Value
	Message string
}

// Session threads an optional explicit transaction (opened by BEGIN)
// across a sequence of Execute calls. With no explicit transaction open,
// every statement runs in its own auto-committed transaction.
type Session struct {
	eng *core.Engine
	tx  *txn.Txn
}

func NewSession(eng *core.Engine) *Session {
	return &Session{eng: eng}
}

// Engine returns the session's underlying engine, for callers (the REPL's
// \dt/\d meta-commands) that need catalog information outside the SQL
// dialect itself.
func (s *Session) Engine() *core.Engine {
	return s.eng
}

// Execute parses nothing itself — callers Parse first — and runs one
// already-parsed statement against the session's engine.
func (s *Session) Execute(stmt Stmt) (*Result, error) {
	switch st := stmt.(type) {
	case Begin:
		return s.execBegin()
	case Commit:
		return s.execCommit()
	case Rollback:
		return s.execRollback()
	case Explain:
		return s.execExplain(st)
	default:
		return s.execWithImplicitTxn(stmt)
	}
}

func (s *Session) execBegin() (*Result, error) {
	if s.tx != nil {
		return nil, errs.New(errs.KindTxn, 0, "a transaction is already open")
	}
	s.tx = s.eng.Begin()
	return &Result{Message: "BEGIN"}, nil
}

func (s *Session) execCommit() (*Result, error) {
	if s.tx == nil {
		return nil, errs.New(errs.KindTxn, 0, "no transaction is open")
	}
	t := s.tx
	s.tx = nil
	if err := s.eng.Commit(t); err != nil {
		return nil, err
	}
	return &Result{Message: "COMMIT"}, nil
}

func (s *Session) execRollback() (*Result, error) {
	if s.tx == nil {
		return nil, errs.New(errs.KindTxn, 0, "no transaction is open")
	}
	t := s.tx
	s.tx = nil
	if err := s.eng.Rollback(t); err != nil {
		return nil, err
	}
	return &Result{Message: "ROLLBACK"}, nil
}

// execWithImplicitTxn runs stmt under the session's open transaction if
// one exists, else opens and closes one around just this statement.
func (s *Session) execWithImplicitTxn(stmt Stmt) (*Result, error) {
	if s.tx != nil {
		return s.execOn(s.tx, stmt)
	}
	t := s.eng.Begin()
	res, err := s.execOn(t, stmt)
	if err != nil {
		s.eng.Rollback(t)
		return nil, err
	}
	if cerr := s.eng.Commit(t); cerr != nil {
		return nil, cerr
	}
	return res, nil
}

func (s *Session) execOn(t *txn.Txn, stmt Stmt) (*Result, error) {
	switch st := stmt.(type) {
	case CreateTable:
		return s.execCreateTable(st)
	case DropTable:
		return s.execDropTable(st)
	case CreateIndex:
		return s.execCreateIndex(st)
	case DropIndex:
		return s.execDropIndex(st)
	case Insert:
		return s.execInsert(t, st)
	case Update:
		return s.execUpdate(t, st)
	case Delete:
		return s.execDelete(t, st)
	case Select:
		return s.execSelect(t, st)
	default:
		return nil, errs.New(errs.KindParse, 0, "unsupported statement")
	}
}

func (s *Session) execCreateTable(st CreateTable) (*Result, error) {
	cols := make([]types.Column, len(st.Columns))
	for i, c := range st.Columns {
		cols[i] = types.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	if err := s.eng.CreateTable(st.Table, types.Schema{Columns: cols}); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("CREATE TABLE %s", st.Table)}, nil
}

func (s *Session) execDropTable(st DropTable) (*Result, error) {
	if err := s.eng.DropTable(st.Table); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("DROP TABLE %s", st.Table)}, nil
}

func (s *Session) execCreateIndex(st CreateIndex) (*Result, error) {
	if err := s.eng.CreateIndex(st.Table, st.Index, st.Column, st.Unique); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("CREATE INDEX %s", st.Index)}, nil
}

func (s *Session) execDropIndex(st DropIndex) (*Result, error) {
	if err := s.eng.DropIndex(st.Table, st.Index); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("DROP INDEX %s", st.Index)}, nil
}

func (s *Session) execInsert(t *txn.Txn, st Insert) (*Result, error) {
	schema, ok := s.eng.TableSchema(st.Table)
	if !ok {
		return nil, errs.New(errs.KindSchema, 0, "unknown table %q", st.Table)
	}

	positions := st.Columns
	if len(positions) == 0 {
		positions = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			positions[i] = c.Name
		}
	}

	n := 0
	for _, row := range st.Rows {
		if len(row) != len(positions) {
			return nil, errs.New(errs.KindSchema, 0,
				"INSERT has %d values but %d columns", len(row), len(positions))
		}
		values := make([]types.Value, len(schema.Columns))
		for i, colName := range positions {
			idx := schema.ColumnIndex(colName)
			if idx < 0 {
				return nil, errs.New(errs.KindSchema, 0, "unknown column %q", colName)
			}
			v, err := evalConst(row[i])
			if err != nil {
				return nil, err
			}
			values[idx] = v
		}
		if _, err := s.eng.Insert(t, st.Table, values); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{Message: fmt.Sprintf("INSERT %d", n)}, nil
}

func (s *Session) execUpdate(t *txn.Txn, st Update) (*Result, error) {
	schema, ok := s.eng.TableSchema(st.Table)
	if !ok {
		return nil, errs.New(errs.KindSchema, 0, "unknown table %q", st.Table)
	}

	rids, rows, err := s.eng.Scan(t, st.Table)
	if err != nil {
		return nil, err
	}

	n := 0
	for i, r := range rids {
		row := rows[i]
		if st.Where != nil {
			ok, err := evalPredicate(st.Where, schema, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		newValues := append([]types.Value{}, row...)
		for _, set := range st.Sets {
			idx := schema.ColumnIndex(set.Column)
			if idx < 0 {
				return nil, errs.New(errs.KindSchema, 0, "unknown column %q", set.Column)
			}
			v, err := evalExpr(set.Value, schema, row)
			if err != nil {
				return nil, err
			}
			newValues[idx] = v
		}
		if _, err := s.eng.Update(t, st.Table, r, newValues); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{Message: fmt.Sprintf("UPDATE %d", n)}, nil
}

func (s *Session) execDelete(t *txn.Txn, st Delete) (*Result, error) {
	schema, ok := s.eng.TableSchema(st.Table)
	if !ok {
		return nil, errs.New(errs.KindSchema, 0, "unknown table %q", st.Table)
	}

	rids, rows, err := s.eng.Scan(t, st.Table)
	if err != nil {
		return nil, err
	}

	n := 0
	for i, r := range rids {
		if st.Where != nil {
			ok, err := evalPredicate(st.Where, schema, rows[i])
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if err := s.eng.Delete(t, st.Table, r); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{Message: fmt.Sprintf("DELETE %d", n)}, nil
}

func (s *Session) execSelect(t *txn.Txn, st Select) (*Result, error) {
	schema, ok := s.eng.TableSchema(st.Table)
	if !ok {
		return nil, errs.New(errs.KindSchema, 0, "unknown table %q", st.Table)
	}

	plan := choosePlan(s.eng, st)
	rows, err := runPlan(s.eng, t, st.Table, schema, plan, st.Where)
	if err != nil {
		return nil, err
	}

	if len(st.OrderBy) > 0 {
		if err := sortRows(rows, schema, st.OrderBy); err != nil {
			return nil, err
		}
	}
	if st.Limit != nil && int64(len(rows)) > *st.Limit {
		rows = rows[:*st.Limit]
	}

	columns := st.Columns
	if len(columns) == 0 {
		columns = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			columns[i] = c.Name
		}
		return &Result{Columns: columns, Rows: rows}, nil
	}

	projected := make([][]types.Value, len(rows))
	for i, row := range rows {
		out := make([]types.Value, len(columns))
		for j, name := range columns {
			idx := schema.ColumnIndex(name)
			if idx < 0 {
				return nil, errs.New(errs.KindSchema, 0, "unknown column %q", name)
			}
			out[j] = row[idx]
		}
		projected[i] = out
	}
	return &Result{Columns: columns, Rows: projected}, nil
}

func (s *Session) execExplain(st Explain) (*Result, error) {
	sel, ok := st.Stmt.(Select)
	if !ok {
		return &Result{Message: "EXPLAIN only describes SELECT in this dialect"}, nil
	}
	plan := choosePlan(s.eng, sel)
	text := plan.describe(st.Physical)
	return &Result{Columns: []string{"plan"}, Rows: [][]types.Value{{types.StringValue(text)}}}, nil
}

// ---- planning -------------------------------------------------------

type planKind int

const (
	planSeqScan planKind = iota
	planIndexScan
	planIndexRangeScan
)

type plan struct {
	kind    planKind
	index   string
	column  string
	eqValue types.Value
	lo, hi  types.Value
}

func (pl plan) describe(physical bool) string {
	switch pl.kind {
	case planIndexScan:
		if physical {
			return fmt.Sprintf("IndexScan(%s) on %s = %s", pl.index, pl.column, types.Format(pl.eqValue))
		}
		return fmt.Sprintf("IndexScan(%s)", pl.index)
	case planIndexRangeScan:
		if physical {
			return fmt.Sprintf("IndexRangeScan(%s) on %s BETWEEN %s AND %s",
				pl.index, pl.column, types.Format(pl.lo), types.Format(pl.hi))
		}
		return fmt.Sprintf("IndexRangeScan(%s)", pl.index)
	default:
		return "SeqScan"
	}
}

// choosePlan inspects the WHERE clause for an equality or BETWEEN against
// an indexed column and picks an IndexScan/IndexRangeScan, falling back
// to a full SeqScan otherwise.
func choosePlan(eng *core.Engine, st Select) plan {
	if st.Where == nil {
		return plan{kind: planSeqScan}
	}
	indexes := eng.ListIndexes(st.Table)
	indexFor := func(column string) *catalog.IndexDef {
		for i := range indexes {
			if indexes[i].Column == column {
				return &indexes[i]
			}
		}
		return nil
	}

	switch e := st.Where.(type) {
	case Between:
		ref, ok := e.Column.(ColumnRef)
		if !ok {
			return plan{kind: planSeqScan}
		}
		idx := indexFor(ref.Name)
		if idx == nil {
			return plan{kind: planSeqScan}
		}
		lo, err1 := evalConst(e.Low)
		hi, err2 := evalConst(e.High)
		if err1 != nil || err2 != nil {
			return plan{kind: planSeqScan}
		}
		return plan{kind: planIndexRangeScan, index: idx.Name, column: ref.Name, lo: lo, hi: hi}
	case BinaryExpr:
		if e.Op != OpEq {
			return plan{kind: planSeqScan}
		}
		ref, ok := e.Left.(ColumnRef)
		if !ok {
			return plan{kind: planSeqScan}
		}
		idx := indexFor(ref.Name)
		if idx == nil {
			return plan{kind: planSeqScan}
		}
		v, err := evalConst(e.Right)
		if err != nil {
			return plan{kind: planSeqScan}
		}
		return plan{kind: planIndexScan, index: idx.Name, column: ref.Name, eqValue: v}
	default:
		return plan{kind: planSeqScan}
	}
}

func runPlan(eng *core.Engine, t *txn.Txn, table string, schema types.Schema, pl plan, where Expr) ([][]types.Value, error) {
	switch pl.kind {
	case planIndexScan:
		r, err := eng.IndexSearch(t, table, pl.index, pl.eqValue)
		if err != nil {
			if err == errs.ErrNotFound {
				return nil, nil
			}
			return nil, err
		}
		row, err := eng.Get(t, table, r)
		if err != nil {
			return nil, err
		}
		return [][]types.Value{row}, nil
	case planIndexRangeScan:
		rids, err := eng.IndexRange(t, table, pl.index, pl.lo, pl.hi)
		if err != nil {
			return nil, err
		}
		rows := make([][]types.Value, len(rids))
		for i, r := range rids {
			row, err := eng.Get(t, table, r)
			if err != nil {
				return nil, err
			}
			rows[i] = row
		}
		return rows, nil
	default:
		_, rows, err := eng.Scan(t, table)
		if err != nil {
			return nil, err
		}
		if where == nil {
			return rows, nil
		}
		var out [][]types.Value
		for _, row := range rows {
			ok, err := evalPredicate(where, schema, row)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, row)
			}
		}
		return out, nil
	}
}

func sortRows(rows [][]types.Value, schema types.Schema, order []OrderTerm) error {
	idxs := make([]int, len(order))
	for i, term := range order {
		idx := schema.ColumnIndex(term.Column)
		if idx < 0 {
			return errs.New(errs.KindSchema, 0, "unknown column %q in ORDER BY", term.Column)
		}
		idxs[i] = idx
	}
	var sortErr error
	sort.SliceStable(rows, func(a, b int) bool {
		for i, colIdx := range idxs {
			av, bv := rows[a][colIdx], rows[b][colIdx]
			if av == nil || bv == nil {
				continue
			}
			c, err := types.Compare(schema.Columns[colIdx].Type, av, bv)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if order[i].Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

