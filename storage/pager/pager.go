package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"minidb/errs"
)

// HeaderInfo is the page-0 metadata common to every file kind.
type HeaderInfo struct {
	FormatVersion uint16
	Metadata      []byte // file-kind-specific bytes following HeaderMetadataOffset
}

// Pager owns random-access reads and writes of fixed-size pages against a
// single on-disk file, fronted by an LRU buffer pool. It is safe for
// concurrent use: each page access takes a short per-page latch, released
// immediately after the read/write completes.
type Pager struct {
	mu       sync.Mutex // protects file offset bookkeeping and the pool's bookkeeping structures
	file     *os.File
	path     string
	numPages PageID

	pool *bufferPool
}

// Open opens or creates path as a page file. If the file is empty, a fresh
// header page is written (magic + format version); otherwise the existing
// header is verified. cachePages sizes the buffer pool (0 uses a sane
// default).
func Open(path string, cachePages int) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	if cachePages <= 0 {
		cachePages = 256
	}

	pg := &Pager{
		file:     f,
		path:     path,
		numPages: PageID(fi.Size() / PageSize),
		pool:     newBufferPool(cachePages),
	}

	if fi.Size() == 0 {
		hp := newZeroPage(0)
		binary.BigEndian.PutUint16(hp.Buf[headerMagicOff:], magic)
		binary.BigEndian.PutUint16(hp.Buf[headerVersionOff:], formatVersion)
		if err := pg.writeThrough(hp); err != nil {
			f.Close()
			return nil, err
		}
		pg.numPages = 1
	} else {
		hp, err := pg.readThrough(0)
		if err != nil {
			f.Close()
			return nil, err
		}
		got := binary.BigEndian.Uint16(hp.Buf[headerMagicOff:])
		if got != magic {
			f.Close()
			return nil, fmt.Errorf("pager: %s: %w (got %#x)", path, errs.ErrBadMagic, got)
		}
		ver := binary.BigEndian.Uint16(hp.Buf[headerVersionOff:])
		if ver != formatVersion {
			f.Close()
			return nil, fmt.Errorf("pager: %s: %w (got %d, want %d)", path, errs.ErrVersionMismatch,
				ver, formatVersion)
		}
	}

	return pg, nil
}

func (pg *Pager) Path() string { return pg.path }

// NumPages returns the number of pages currently in the file, including
// the header page.
func (pg *Pager) NumPages() PageID {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.numPages
}

// Header reads page 0 without going through the data-page checksum path
// (the header page uses its own layout; see page.go).
func (pg *Pager) Header() (*Page, error) {
	return pg.Read(0)
}

// WriteHeader rewrites page 0's metadata bytes (after magic/version) and
// restamps its checksum at headerChecksumOff ([4:8]), computed over the
// full 4096 bytes with that field zeroed; the magic and format_version
// bytes at [0:4] are left untouched.
func (pg *Pager) WriteHeader(metadata []byte) error {
	hp, err := pg.Read(0)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(hp.Buf[headerMagicOff:], magic)
	binary.BigEndian.PutUint16(hp.Buf[headerVersionOff:], formatVersion)
	copy(hp.Buf[HeaderMetadataOffset:], metadata)
	for i := HeaderMetadataOffset + len(metadata); i < PageSize; i++ {
		hp.Buf[i] = 0
	}
	hp.MarkDirty()
	return pg.Write(hp)
}

// Read returns the page with the given id, verifying its checksum. The
// header page (id 0) is checked against headerChecksumOff, since its
// [0:4] holds magic and format_version rather than a checksum; every
// other page is checked against checksumOff.
func (pg *Pager) Read(id PageID) (*Page, error) {
	if p, ok := pg.pool.get(id); ok {
		return p, nil
	}
	p, err := pg.readThrough(id)
	if err != nil {
		return nil, err
	}
	pg.pool.put(p, func(victim *Page) error { return pg.writeThrough(victim) })
	return p, nil
}

func (pg *Pager) readThrough(id PageID) (*Page, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	p := &Page{ID: id}
	_, err := pg.file.ReadAt(p.Buf[:], int64(id)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	if !verifyChecksum(p) {
		log.WithField("page", id).Error("minidb: page checksum mismatch")
		return nil, fmt.Errorf("pager: page %d: %w", id, errs.ErrCorruptPage)
	}
	return p, nil
}

// Write stamps the page's checksum and writes it back through the buffer
// pool; it is not fsync'd (callers batch fsync via Flush).
func (pg *Pager) Write(p *Page) error {
	p.MarkDirty()
	pg.pool.put(p, func(victim *Page) error { return pg.writeThrough(victim) })
	return nil
}

func (pg *Pager) writeThrough(p *Page) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	stampChecksum(p)
	_, err := pg.file.WriteAt(p.Buf[:], int64(p.ID)*PageSize)
	if err != nil {
		return fmt.Errorf("pager: write page %d: %w", p.ID, err)
	}
	p.dirty = false
	return nil
}

// Allocate appends a new zero-initialized page and returns its id.
func (pg *Pager) Allocate() (PageID, error) {
	pg.mu.Lock()
	id := pg.numPages
	pg.numPages++
	pg.mu.Unlock()

	p := newZeroPage(id)
	if err := pg.writeThrough(p); err != nil {
		return 0, err
	}
	pg.pool.put(p, func(victim *Page) error { return pg.writeThrough(victim) })
	return id, nil
}

// Flush fsyncs (Fdatasync on platforms that support it) the underlying
// file, after writing back every dirty page still pinned in the pool.
func (pg *Pager) Flush() error {
	if err := pg.pool.flushDirty(pg.writeThrough); err != nil {
		return err
	}
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if err := unix.Fdatasync(int(pg.file.Fd())); err != nil {
		return fmt.Errorf("pager: fdatasync %s: %w", pg.path, err)
	}
	return nil
}

func (pg *Pager) Close() error {
	if err := pg.Flush(); err != nil {
		return err
	}
	return pg.file.Close()
}
