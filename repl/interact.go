package repl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"minidb/sqlfront"
)

const historyFile = ".minidb_history"

// Interact runs the interactive console: a liner-backed prompt that
// accumulates input until a trailing semicolon, dispatching meta-commands
// (\dt, \d, \q, \timing, \explain) directly and everything else through
// sess. It returns when the user quits or closes stdin.
func Interact(sess *sqlfront.Session) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	timing := false
	var buf strings.Builder

	for {
		prompt := "minidb> "
		if buf.Len() > 0 {
			prompt = "     -> "
		}
		text, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line.AppendHistory(text)

		if buf.Len() == 0 {
			if cmd, args, ok := parseMeta(text); ok {
				if cmd == "q" {
					return nil
				}
				if handled, newTiming := runMeta(sess, cmd, args, &timing); handled {
					timing = newTiming
					continue
				}
			}
		}

		buf.WriteString(text)
		buf.WriteByte('\n')
		if !strings.HasSuffix(strings.TrimSpace(text), ";") {
			continue
		}

		src := buf.String()
		buf.Reset()

		start := time.Now()
		err = runStatement(sess, src, os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if timing {
			fmt.Fprintf(os.Stdout, "Time: %s\n", time.Since(start))
		}
	}
}

// parseMeta recognizes a line as a meta-command (one starting with \),
// splitting it into the command word and its remaining argument text.
func parseMeta(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "\\") {
		return "", "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", "", false
	}
	return fields[0], strings.Join(fields[1:], " "), true
}

func runMeta(sess *sqlfront.Session, cmd, args string, timing *bool) (handled bool, newTiming bool) {
	switch cmd {
	case "dt":
		for _, name := range sess.Engine().ListTables() {
			fmt.Fprintln(os.Stdout, name)
		}
		return true, *timing
	case "d":
		describeTable(sess, args)
		return true, *timing
	case "timing":
		*timing = !*timing
		state := "off"
		if *timing {
			state = "on"
		}
		fmt.Fprintf(os.Stdout, "timing is %s\n", state)
		return true, *timing
	case "explain":
		fmt.Fprintln(os.Stdout, "use EXPLAIN [LOGICAL|PHYSICAL] <select> instead of \\explain")
		return true, *timing
	default:
		fmt.Fprintf(os.Stderr, "unknown meta-command \\%s\n", cmd)
		return true, *timing
	}
}

func describeTable(sess *sqlfront.Session, table string) {
	schema, ok := sess.Engine().TableSchema(table)
	if !ok {
		fmt.Fprintf(os.Stderr, "no such table %q\n", table)
		return
	}
	for _, col := range schema.Columns {
		nullable := "NOT NULL"
		if col.Nullable {
			nullable = ""
		}
		fmt.Fprintf(os.Stdout, "%-20s %-10v %s\n", col.Name, col.Type, nullable)
	}
	for _, idx := range sess.Engine().ListIndexes(table) {
		unique := ""
		if idx.Unique {
			unique = " UNIQUE"
		}
		fmt.Fprintf(os.Stdout, "index %s on %s%s\n", idx.Name, idx.Column, unique)
	}
}
