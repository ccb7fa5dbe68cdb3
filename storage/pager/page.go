// Package pager implements the paged storage substrate: fixed 4 KiB pages
// read and written through a buffer pool backed by a single on-disk file.
// This is component A ("Pager") of the storage design.
package pager

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// PageSize is the fixed size of every page, including page 0.
	PageSize = 4096

	// magic identifies a minidb page file at offset 0-1 of page 0.
	magic = 0x4D44

	// formatVersion is the only version this engine understands.
	formatVersion = 1

	// Header page layout, shared by every file kind (.tbl, .idx):
	//   [0:2]  magic            uint16 big-endian
	//   [2:4]  format_version   uint16 big-endian
	//   [4:8]  checksum         uint32 big-endian (CRC32 of the page, field zeroed)
	//   [8:]   file-kind-specific metadata
	headerMagicOff   = 0
	headerVersionOff = 2
	headerChecksumOff = 4
	// HeaderMetadataOffset is where .tbl/.idx specific metadata begins.
	HeaderMetadataOffset = 8

	// Data page layout (slotted page, see storage/slotted):
	//   [0:4]  checksum   uint32 big-endian (CRC32 of the page, field zeroed)
	//   [4:8]  page_lsn   uint32 big-endian (LSN of last mutation, for redo idempotency)
	//   [8:10] flags      uint16 big-endian (bit 0: leaf vs internal for index pages)
	//   [10:12] free_start uint16 big-endian
	//   [12:14] free_end   uint16 big-endian
	//   [14:24] reserved
	//   [24:]   slot directory + tuple region
	checksumOff   = 0
	pageLSNOff    = 4
	flagsOff      = 8
	freeStartOff  = 10
	freeEndOff    = 12

	// DataStart is the first byte of the slot directory on a data page.
	DataStart = 24
)

// PageID identifies a page within a file.
type PageID uint32

// Page is an in-memory view over one 4096-byte buffer.
type Page struct {
	ID   PageID
	Buf  [PageSize]byte
	dirty bool
}

func newZeroPage(id PageID) *Page {
	p := &Page{ID: id}
	binary.BigEndian.PutUint16(p.Buf[freeStartOff:], DataStart)
	binary.BigEndian.PutUint16(p.Buf[freeEndOff:], PageSize)
	return p
}

// FreeStart returns the current end of the slot directory.
func (p *Page) FreeStart() uint16 {
	return binary.BigEndian.Uint16(p.Buf[freeStartOff:])
}

func (p *Page) SetFreeStart(v uint16) {
	binary.BigEndian.PutUint16(p.Buf[freeStartOff:], v)
	p.dirty = true
}

// FreeEnd returns the current start of the tuple region.
func (p *Page) FreeEnd() uint16 {
	return binary.BigEndian.Uint16(p.Buf[freeEndOff:])
}

func (p *Page) SetFreeEnd(v uint16) {
	binary.BigEndian.PutUint16(p.Buf[freeEndOff:], v)
	p.dirty = true
}

// Flags returns the page-level flags (bit 0: leaf vs internal B-Tree node).
func (p *Page) Flags() uint16 {
	return binary.BigEndian.Uint16(p.Buf[flagsOff:])
}

func (p *Page) SetFlags(f uint16) {
	binary.BigEndian.PutUint16(p.Buf[flagsOff:], f)
	p.dirty = true
}

// reservedOff is the start of the 10-byte region ([14:24]) reserved for
// carrier-specific fixed metadata -- the B-Tree node carrier uses it for
// sibling/rightmost-child page pointers.
const reservedOff = 14
const reservedSize = DataStart - reservedOff

// Reserved returns a mutable view of the page's reserved metadata bytes.
func (p *Page) Reserved() []byte {
	return p.Buf[reservedOff : reservedOff+reservedSize]
}

// LSN returns the LSN of the last WAL record applied to this page, used by
// recovery to decide idempotently whether a redo record must be reapplied.
func (p *Page) LSN() uint32 {
	return binary.BigEndian.Uint32(p.Buf[pageLSNOff:])
}

func (p *Page) SetLSN(lsn uint32) {
	binary.BigEndian.PutUint32(p.Buf[pageLSNOff:], lsn)
	p.dirty = true
}

// MarkDirty flags the page as needing to be written back by the buffer pool.
func (p *Page) MarkDirty() {
	p.dirty = true
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

// checksumOffsetFor returns where a page's CRC32 lives: headerChecksumOff
// for the header page (whose [0:4] is magic+format_version instead of a
// checksum), checksumOff for every data page.
func checksumOffsetFor(id PageID) int {
	if id == 0 {
		return headerChecksumOff
	}
	return checksumOff
}

// checksum computes the CRC32 of the page with its checksum field zeroed.
func checksum(p *Page) uint32 {
	off := checksumOffsetFor(p.ID)
	var tmp [PageSize]byte
	copy(tmp[:], p.Buf[:])
	binary.BigEndian.PutUint32(tmp[off:], 0)
	return crc32.ChecksumIEEE(tmp[:])
}

func stampChecksum(p *Page) {
	off := checksumOffsetFor(p.ID)
	binary.BigEndian.PutUint32(p.Buf[off:], 0)
	c := crc32.ChecksumIEEE(p.Buf[:])
	binary.BigEndian.PutUint32(p.Buf[off:], c)
}

func verifyChecksum(p *Page) bool {
	off := checksumOffsetFor(p.ID)
	want := binary.BigEndian.Uint32(p.Buf[off:])
	return checksum(p) == want
}
