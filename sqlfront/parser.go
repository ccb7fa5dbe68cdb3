package sqlfront

import (
	"minidb/errs"
	"minidb/types"
)

// Parser consumes Tokens from a Scanner and builds one Stmt per call to
// Parse. It is a plain one-token-lookahead recursive-descent parser over
// minidb's small dialect, building this package's own AST directly.
type Parser struct {
	scan *Scanner
	tok  Token
}

func NewParser(src string) *Parser {
	p := &Parser{scan: NewScanner(src)}
	p.next()
	return p
}

func (p *Parser) next() {
	p.tok = p.scan.Scan()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return errs.NewAt(errs.KindParse, 0, p.tok.Pos, format, args...)
}

func (p *Parser) expect(k Kind, what string) (Token, error) {
	if p.tok.Kind != k {
		return Token{}, p.errorf("expected %s, got %s", what, p.tok)
	}
	t := p.tok
	p.next()
	return t, nil
}

func (p *Parser) isReserved(word string) bool {
	return p.tok.Kind == Reserved && p.tok.Text == word
}

func (p *Parser) expectReserved(word string) error {
	if !p.isReserved(word) {
		return p.errorf("expected %s, got %s", word, p.tok)
	}
	p.next()
	return nil
}

func (p *Parser) identifier(what string) (string, error) {
	if p.tok.Kind != Identifier {
		return "", p.errorf("expected %s, got %s", what, p.tok)
	}
	name := p.tok.Text
	p.next()
	return name, nil
}

// Parse parses exactly one statement, optionally followed by a single
// trailing semicolon, and reports an error if trailing tokens remain.
func (p *Parser) Parse() (Stmt, error) {
	stmt, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == Semicolon {
		p.next()
	}
	if p.tok.Kind != EOF {
		return nil, p.errorf("unexpected %s after statement", p.tok)
	}
	return stmt, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.isReserved("CREATE"):
		return p.parseCreate()
	case p.isReserved("DROP"):
		return p.parseDrop()
	case p.isReserved("INSERT"):
		return p.parseInsert()
	case p.isReserved("UPDATE"):
		return p.parseUpdate()
	case p.isReserved("DELETE"):
		return p.parseDelete()
	case p.isReserved("SELECT"):
		return p.parseSelect()
	case p.isReserved("BEGIN"):
		p.next()
		return Begin{}, nil
	case p.isReserved("COMMIT"):
		p.next()
		return Commit{}, nil
	case p.isReserved("ROLLBACK"):
		p.next()
		return Rollback{}, nil
	case p.isReserved("EXPLAIN"):
		return p.parseExplain()
	default:
		return nil, p.errorf("unexpected %s at start of statement", p.tok)
	}
}

func (p *Parser) parseExplain() (Stmt, error) {
	p.next() // EXPLAIN
	physical := false
	if p.isReserved("PHYSICAL") {
		physical = true
		p.next()
	} else if p.isReserved("LOGICAL") {
		p.next()
	}
	inner, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return Explain{Stmt: inner, Physical: physical}, nil
}

func (p *Parser) parseCreate() (Stmt, error) {
	p.next() // CREATE
	if p.isReserved("TABLE") {
		return p.parseCreateTable()
	}
	unique := false
	if p.isReserved("UNIQUE") {
		unique = true
		p.next()
	}
	if err := p.expectReserved("INDEX"); err != nil {
		return nil, err
	}
	idxName, err := p.identifier("index name")
	if err != nil {
		return nil, err
	}
	if err := p.expectReserved("ON"); err != nil {
		return nil, err
	}
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LParen, "("); err != nil {
		return nil, err
	}
	column, err := p.identifier("column name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RParen, ")"); err != nil {
		return nil, err
	}
	return CreateIndex{Index: idxName, Table: table, Column: column, Unique: unique}, nil
}

func (p *Parser) parseCreateTable() (Stmt, error) {
	p.next() // TABLE
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LParen, "("); err != nil {
		return nil, err
	}

	var cols []ColumnDef
	for {
		name, err := p.identifier("column name")
		if err != nil {
			return nil, err
		}
		typ, err := p.parseTypeTag()
		if err != nil {
			return nil, err
		}
		nullable := true
		if p.isReserved("NOT") {
			p.next()
			if err := p.expectReserved("NULL"); err != nil {
				return nil, err
			}
			nullable = false
		}
		cols = append(cols, ColumnDef{Name: name, Type: typ, Nullable: nullable})

		if p.tok.Kind == Comma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(RParen, ")"); err != nil {
		return nil, err
	}
	return CreateTable{Table: table, Columns: cols}, nil
}

func (p *Parser) parseTypeTag() (types.TypeTag, error) {
	if p.tok.Kind != Reserved {
		return 0, p.errorf("expected a column type, got %s", p.tok)
	}
	var tag types.TypeTag
	switch p.tok.Text {
	case "INT":
		tag = types.INT
	case "FLOAT":
		tag = types.FLOAT
	case "BOOLEAN":
		tag = types.BOOLEAN
	case "DATE":
		tag = types.DATE
	case "STRING":
		tag = types.STRING
	default:
		return 0, p.errorf("expected a column type, got %s", p.tok)
	}
	p.next()
	return tag, nil
}

func (p *Parser) parseDrop() (Stmt, error) {
	p.next() // DROP
	if p.isReserved("TABLE") {
		p.next()
		table, err := p.identifier("table name")
		if err != nil {
			return nil, err
		}
		return DropTable{Table: table}, nil
	}
	if err := p.expectReserved("INDEX"); err != nil {
		return nil, err
	}
	idxName, err := p.identifier("index name")
	if err != nil {
		return nil, err
	}
	if err := p.expectReserved("ON"); err != nil {
		return nil, err
	}
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}
	return DropIndex{Index: idxName, Table: table}, nil
}

func (p *Parser) parseInsert() (Stmt, error) {
	p.next() // INSERT
	if err := p.expectReserved("INTO"); err != nil {
		return nil, err
	}
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}

	var columns []string
	if p.tok.Kind == LParen {
		p.next()
		for {
			name, err := p.identifier("column name")
			if err != nil {
				return nil, err
			}
			columns = append(columns, name)
			if p.tok.Kind == Comma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(RParen, ")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectReserved("VALUES"); err != nil {
		return nil, err
	}

	var rows [][]Expr
	for {
		if _, err := p.expect(LParen, "("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.tok.Kind == Comma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(RParen, ")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.tok.Kind == Comma {
			p.next()
			continue
		}
		break
	}

	return Insert{Table: table, Columns: columns, Rows: rows}, nil
}

func (p *Parser) parseUpdate() (Stmt, error) {
	p.next() // UPDATE
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectReserved("SET"); err != nil {
		return nil, err
	}

	var sets []SetClause
	for {
		col, err := p.identifier("column name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Equal, "="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sets = append(sets, SetClause{Column: col, Value: val})
		if p.tok.Kind == Comma {
			p.next()
			continue
		}
		break
	}

	var where Expr
	if p.isReserved("WHERE") {
		p.next()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return Update{Table: table, Sets: sets, Where: where}, nil
}

func (p *Parser) parseDelete() (Stmt, error) {
	p.next() // DELETE
	if err := p.expectReserved("FROM"); err != nil {
		return nil, err
	}
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}
	var where Expr
	if p.isReserved("WHERE") {
		p.next()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return Delete{Table: table, Where: where}, nil
}

func (p *Parser) parseSelect() (Stmt, error) {
	p.next() // SELECT

	var columns []string
	if p.tok.Kind == Star {
		p.next()
	} else {
		for {
			name, err := p.identifier("column name")
			if err != nil {
				return nil, err
			}
			columns = append(columns, name)
			if p.tok.Kind == Comma {
				p.next()
				continue
			}
			break
		}
	}

	if err := p.expectReserved("FROM"); err != nil {
		return nil, err
	}
	table, err := p.identifier("table name")
	if err != nil {
		return nil, err
	}

	var where Expr
	if p.isReserved("WHERE") {
		p.next()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	var order []OrderTerm
	if p.isReserved("ORDER") {
		p.next()
		if err := p.expectReserved("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.identifier("column name")
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isReserved("ASC") {
				p.next()
			} else if p.isReserved("DESC") {
				desc = true
				p.next()
			}
			order = append(order, OrderTerm{Column: col, Desc: desc})
			if p.tok.Kind == Comma {
				p.next()
				continue
			}
			break
		}
	}

	var limit *int64
	if p.isReserved("LIMIT") {
		p.next()
		t, err := p.expect(Integer, "a number")
		if err != nil {
			return nil, err
		}
		n := t.Int
		limit = &n
	}

	return Select{Table: table, Columns: columns, Where: where, OrderBy: order, Limit: limit}, nil
}

// ---- expressions --------------------------------------------------------
//
// Precedence, lowest to highest: OR, AND, comparison/BETWEEN, +/-, primary.

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isReserved("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.isReserved("AND") {
		p.next()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseCmp() (Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}

	if p.isReserved("BETWEEN") {
		p.next()
		lo, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		if err := p.expectReserved("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return Between{Column: left, Low: lo, High: hi}, nil
	}

	var op BinOp
	switch p.tok.Kind {
	case Equal:
		op = OpEq
	case NotEqual:
		op = OpNe
	case Less:
		op = OpLt
	case LessEqual:
		op = OpLe
	case Greater:
		op = OpGt
	case GreaterEqual:
		op = OpGe
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	return BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func (p *Parser) parseAdd() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == Plus || p.tok.Kind == Minus {
		op := OpAdd
		if p.tok.Kind == Minus {
			op = OpSub
		}
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.tok.Kind {
	case Integer:
		v := types.IntValue(p.tok.Int)
		p.next()
		return Literal{Value: v}, nil
	case Float:
		v := types.FloatValue(p.tok.Flt)
		p.next()
		return Literal{Value: v}, nil
	case String:
		v := types.StringValue(p.tok.Text)
		p.next()
		return Literal{Value: v}, nil
	case Minus:
		p.next()
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if lit, ok := e.(Literal); ok {
			switch v := lit.Value.(type) {
			case types.IntValue:
				return Literal{Value: -v}, nil
			case types.FloatValue:
				return Literal{Value: -v}, nil
			}
		}
		return nil, p.errorf("unary minus requires a numeric literal")
	case Identifier:
		name := p.tok.Text
		p.next()
		return ColumnRef{Name: name}, nil
	case LParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case Reserved:
		switch p.tok.Text {
		case "TRUE":
			p.next()
			return Literal{Value: types.BoolValue(true)}, nil
		case "FALSE":
			p.next()
			return Literal{Value: types.BoolValue(false)}, nil
		case "NULL":
			p.next()
			return Literal{Value: nil}, nil
		}
	}
	return nil, p.errorf("unexpected %s in expression", p.tok)
}
