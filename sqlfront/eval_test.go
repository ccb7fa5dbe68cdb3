package sqlfront

import (
	"testing"

	"minidb/types"
)

func testRowSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.INT},
		{Name: "name", Type: types.STRING, Nullable: true},
	}}
}

func TestEvalPredicateEquality(t *testing.T) {
	schema := testRowSchema()
	row := []types.Value{types.IntValue(5), types.StringValue("bob")}

	expr := BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "id"}, Right: Literal{Value: types.IntValue(5)}}
	ok, err := evalPredicate(expr, schema, row)
	if err != nil || !ok {
		t.Errorf("evalPredicate(id = 5) = %v, %v, want true, nil", ok, err)
	}

	expr = BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "id"}, Right: Literal{Value: types.IntValue(6)}}
	ok, err = evalPredicate(expr, schema, row)
	if err != nil || ok {
		t.Errorf("evalPredicate(id = 6) = %v, %v, want false, nil", ok, err)
	}
}

func TestEvalPredicateAndOr(t *testing.T) {
	schema := testRowSchema()
	row := []types.Value{types.IntValue(5), types.StringValue("bob")}

	and := BinaryExpr{
		Op:   OpAnd,
		Left: BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "id"}, Right: Literal{Value: types.IntValue(5)}},
		Right: BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "name"},
			Right: Literal{Value: types.StringValue("bob")}},
	}
	ok, err := evalPredicate(and, schema, row)
	if err != nil || !ok {
		t.Errorf("evalPredicate(and) = %v, %v, want true, nil", ok, err)
	}

	or := BinaryExpr{
		Op:   OpOr,
		Left: BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "id"}, Right: Literal{Value: types.IntValue(0)}},
		Right: BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "name"},
			Right: Literal{Value: types.StringValue("bob")}},
	}
	ok, err = evalPredicate(or, schema, row)
	if err != nil || !ok {
		t.Errorf("evalPredicate(or) = %v, %v, want true, nil", ok, err)
	}
}

func TestEvalBetween(t *testing.T) {
	schema := testRowSchema()
	row := []types.Value{types.IntValue(5), nil}

	between := Between{
		Column: ColumnRef{Name: "id"},
		Low:    Literal{Value: types.IntValue(1)},
		High:   Literal{Value: types.IntValue(10)},
	}
	ok, err := evalPredicate(between, schema, row)
	if err != nil || !ok {
		t.Errorf("evalPredicate(between 1 and 10) = %v, %v, want true, nil", ok, err)
	}

	between.High = Literal{Value: types.IntValue(4)}
	ok, err = evalPredicate(between, schema, row)
	if err != nil || ok {
		t.Errorf("evalPredicate(between 1 and 4) = %v, %v, want false, nil", ok, err)
	}
}

func TestEvalPredicateNullComparisonIsFalse(t *testing.T) {
	schema := testRowSchema()
	row := []types.Value{types.IntValue(5), nil}

	expr := BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "name"}, Right: Literal{Value: types.StringValue("bob")}}
	ok, err := evalPredicate(expr, schema, row)
	if err != nil || ok {
		t.Errorf("evalPredicate(NULL = 'bob') = %v, %v, want false, nil", ok, err)
	}
}

func TestEvalPredicateUnknownColumn(t *testing.T) {
	schema := testRowSchema()
	row := []types.Value{types.IntValue(5), nil}

	expr := BinaryExpr{Op: OpEq, Left: ColumnRef{Name: "missing"}, Right: Literal{Value: types.IntValue(1)}}
	if _, err := evalPredicate(expr, schema, row); err == nil {
		t.Error("evalPredicate with an unknown column did not fail")
	}
}
