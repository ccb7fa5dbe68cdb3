// Package rid defines the Record ID: a stable (page_id, slot_id) pair
// identifying one tuple in a heap file.
package rid

import (
	"encoding/binary"
	"fmt"

	"minidb/storage/pager"
)

// Size is the exact wire size of an encoded RID: 4 bytes page_id + 2 bytes
// slot_id, big-endian, as stored in B-Tree leaves.
const Size = 6

type RID struct {
	PageID pager.PageID
	SlotID uint16
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.SlotID)
}

func (r RID) Encode() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.BigEndian.PutUint16(buf[4:6], r.SlotID)
	return buf
}

func Decode(buf []byte) (RID, error) {
	if len(buf) != Size {
		return RID{}, fmt.Errorf("rid: decode: want %d bytes, got %d", Size, len(buf))
	}
	return RID{
		PageID: pager.PageID(binary.BigEndian.Uint32(buf[0:4])),
		SlotID: binary.BigEndian.Uint16(buf[4:6]),
	}, nil
}
