package txn

import "testing"

func TestUndoRunsInReverseOrder(t *testing.T) {
	tx := New(1)
	var order []int
	tx.RecordUndo(func() error { order = append(order, 1); return nil })
	tx.RecordUndo(func() error { order = append(order, 2); return nil })
	tx.RecordUndo(func() error { order = append(order, 3); return nil })

	if err := tx.Undo(); err != nil {
		t.Fatalf("Undo failed: %s", err)
	}
	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("got %v, want %v", order, want)
			break
		}
	}
}

func TestNewTxnStartsActive(t *testing.T) {
	tx := New(7)
	if tx.State != Active {
		t.Errorf("New txn state = %s, want active", tx.State)
	}
	if tx.ID != 7 {
		t.Errorf("New txn id = %d, want 7", tx.ID)
	}
}
