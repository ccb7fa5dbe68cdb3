package rid

import (
	"testing"

	"minidb/storage/pager"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := RID{PageID: pager.PageID(42), SlotID: 7}

	got, err := Decode(r.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	if got != r {
		t.Errorf("Decode(Encode(%v)) = %v", r, got)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode with short buffer did not fail")
	}
}

func TestString(t *testing.T) {
	r := RID{PageID: pager.PageID(1), SlotID: 2}
	if got, want := r.String(), "(1,2)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
