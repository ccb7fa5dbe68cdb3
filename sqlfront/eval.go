package sqlfront

import (
	"minidb/errs"
	"minidb/types"
)

// evalConst evaluates an expression that must not reference any column,
// for contexts (INSERT VALUES, index-equality planning) where a row
// isn't available.
func evalConst(e Expr) (types.Value, error) {
	return evalExpr(e, types.Schema{}, nil)
}

// evalExpr evaluates e to a scalar value against one row. ColumnRef looks
// up its value positionally in row via schema; arithmetic is INT/FLOAT
// only, matching the dialect's lack of any other numeric coercion.
func evalExpr(e Expr, schema types.Schema, row []types.Value) (types.Value, error) {
	switch ex := e.(type) {
	case Literal:
		return ex.Value, nil
	case ColumnRef:
		idx := schema.ColumnIndex(ex.Name)
		if idx < 0 {
			return nil, errs.New(errs.KindSchema, 0, "unknown column %q", ex.Name)
		}
		if row == nil {
			return nil, errs.New(errs.KindSchema, 0, "column %q not valid in this context", ex.Name)
		}
		return row[idx], nil
	case BinaryExpr:
		return evalBinary(ex, schema, row)
	case Between:
		ok, err := evalBetween(ex, schema, row)
		if err != nil {
			return nil, err
		}
		return types.BoolValue(ok), nil
	default:
		return nil, errs.New(errs.KindParse, 0, "unsupported expression")
	}
}

func evalBinary(ex BinaryExpr, schema types.Schema, row []types.Value) (types.Value, error) {
	switch ex.Op {
	case OpAnd, OpOr:
		l, err := evalPredicate(ex.Left, schema, row)
		if err != nil {
			return nil, err
		}
		if ex.Op == OpAnd && !l {
			return types.BoolValue(false), nil
		}
		if ex.Op == OpOr && l {
			return types.BoolValue(true), nil
		}
		r, err := evalPredicate(ex.Right, schema, row)
		if err != nil {
			return nil, err
		}
		return types.BoolValue(r), nil
	case OpAdd, OpSub:
		l, err := evalExpr(ex.Left, schema, row)
		if err != nil {
			return nil, err
		}
		r, err := evalExpr(ex.Right, schema, row)
		if err != nil {
			return nil, err
		}
		return arith(ex.Op, l, r)
	default:
		l, err := evalExpr(ex.Left, schema, row)
		if err != nil {
			return nil, err
		}
		r, err := evalExpr(ex.Right, schema, row)
		if err != nil {
			return nil, err
		}
		ok, err := compareOp(ex.Op, l, r)
		if err != nil {
			return nil, err
		}
		return types.BoolValue(ok), nil
	}
}

func arith(op BinOp, l, r types.Value) (types.Value, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	switch lv := l.(type) {
	case types.IntValue:
		rv, ok := r.(types.IntValue)
		if !ok {
			return nil, errs.New(errs.KindSchema, 0, "type mismatch in arithmetic")
		}
		if op == OpAdd {
			return lv + rv, nil
		}
		return lv - rv, nil
	case types.FloatValue:
		rv, ok := r.(types.FloatValue)
		if !ok {
			return nil, errs.New(errs.KindSchema, 0, "type mismatch in arithmetic")
		}
		if op == OpAdd {
			return lv + rv, nil
		}
		return lv - rv, nil
	default:
		return nil, errs.New(errs.KindSchema, 0, "arithmetic not supported on %v", l.Type())
	}
}

func compareOp(op BinOp, l, r types.Value) (bool, error) {
	if l == nil || r == nil {
		return false, nil
	}
	if l.Type() != r.Type() {
		return false, errs.New(errs.KindSchema, 0, "type mismatch: %v vs %v", l.Type(), r.Type())
	}
	if op == OpEq || op == OpNe {
		c, err := types.Compare(l.Type(), l, r)
		if err != nil {
			return false, err
		}
		if op == OpEq {
			return c == 0, nil
		}
		return c != 0, nil
	}
	c, err := types.Compare(l.Type(), l, r)
	if err != nil {
		return false, err
	}
	switch op {
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	default:
		return false, errs.New(errs.KindParse, 0, "unsupported comparison operator")
	}
}

func evalBetween(ex Between, schema types.Schema, row []types.Value) (bool, error) {
	v, err := evalExpr(ex.Column, schema, row)
	if err != nil {
		return false, err
	}
	lo, err := evalExpr(ex.Low, schema, row)
	if err != nil {
		return false, err
	}
	hi, err := evalExpr(ex.High, schema, row)
	if err != nil {
		return false, err
	}
	if v == nil || lo == nil || hi == nil {
		return false, nil
	}
	cLo, err := types.Compare(v.Type(), v, lo)
	if err != nil {
		return false, err
	}
	cHi, err := types.Compare(v.Type(), v, hi)
	if err != nil {
		return false, err
	}
	return cLo >= 0 && cHi <= 0, nil
}

// evalPredicate evaluates e as a boolean filter. NULL operands make a
// comparison false rather than three-valued, a deliberate simplification
// of SQL NULL semantics for this dialect's WHERE clauses.
func evalPredicate(e Expr, schema types.Schema, row []types.Value) (bool, error) {
	switch ex := e.(type) {
	case BinaryExpr:
		if ex.Op == OpAnd || ex.Op == OpOr {
			v, err := evalExpr(ex, schema, row)
			if err != nil {
				return false, err
			}
			b, _ := v.(types.BoolValue)
			return bool(b), nil
		}
		l, err := evalExpr(ex.Left, schema, row)
		if err != nil {
			return false, err
		}
		r, err := evalExpr(ex.Right, schema, row)
		if err != nil {
			return false, err
		}
		return compareOp(ex.Op, l, r)
	case Between:
		return evalBetween(ex, schema, row)
	case Literal:
		b, ok := ex.Value.(types.BoolValue)
		if !ok {
			return false, errs.New(errs.KindSchema, 0, "WHERE clause must be boolean")
		}
		return bool(b), nil
	default:
		v, err := evalExpr(e, schema, row)
		if err != nil {
			return false, err
		}
		b, ok := v.(types.BoolValue)
		if !ok {
			return false, errs.New(errs.KindSchema, 0, "WHERE clause must be boolean")
		}
		return bool(b), nil
	}
}
