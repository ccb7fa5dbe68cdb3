// Package repl implements minidb's three run modes: a single --execute
// statement, a --file script, or an interactive console, all built over
// sqlfront.Session. Result sets are rendered through a tablewriter.
package repl

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/olekukonko/tablewriter"

	"minidb/sqlfront"
	"minidb/types"
)

// RunOne parses and executes a single SQL statement and renders its result.
func RunOne(sess *sqlfront.Session, src string, w io.Writer) error {
	return runStatement(sess, src, w)
}

// RunScript executes every statement in r in order, stopping at the first
// error.
func RunScript(sess *sqlfront.Session, r io.Reader, w io.Writer) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	for _, stmtSrc := range sqlfront.SplitStatements(string(b)) {
		if err := runStatement(sess, stmtSrc, w); err != nil {
			return err
		}
	}
	return nil
}

func runStatement(sess *sqlfront.Session, src string, w io.Writer) error {
	stmt, err := sqlfront.NewParser(src).Parse()
	if err != nil {
		return err
	}
	res, err := sess.Execute(stmt)
	if err != nil {
		return err
	}
	render(res, w)
	return nil
}

func render(res *sqlfront.Result, w io.Writer) {
	if res.Columns == nil {
		if res.Message != "" {
			fmt.Fprintln(w, res.Message)
		}
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(res.Columns)
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = types.Format(v)
		}
		tw.Append(cells)
	}
	tw.Render()
	fmt.Fprintf(w, "(%d rows)\n", tw.NumLines())
}
