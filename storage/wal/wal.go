// Package wal implements the write-ahead log: an append-only durable
// mutation journal used for crash recovery. Transaction rollback does not
// read it; it runs the undo closures recorded on each txn.Txn.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"minidb/storage/rid"
)

// Op identifies the kind of WAL record.
type Op byte

const (
	OpInsert     Op = 0x01
	OpUpdate     Op = 0x02
	OpDelete     Op = 0x03
	OpCommit     Op = 0x10
	OpRollback   Op = 0x11
	OpCheckpoint Op = 0x20
)

// Record is one WAL entry: (lsn, txn_id, op, payload). For INSERT/UPDATE/
// DELETE, Table/RID/Before/After carry enough of the before/after images
// to redo or undo the mutation; COMMIT/ROLLBACK/CHECKPOINT carry none of
// that and just mark a point in the log.
type Record struct {
	LSN    uint64
	TxnID  uint32
	Op     Op
	Table  string
	RID    rid.RID
	Before []byte // nil for INSERT
	After  []byte // nil for DELETE
}

// WAL is a single-writer append-only journal file.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	nextLSN uint64
}

// Open opens or creates the log at path. An empty file starts LSNs at 1.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL{f: f, w: bufio.NewWriter(f), nextLSN: 1}
	if fi.Size() > 0 {
		if err := w.recoverNextLSN(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) recoverNextLSN() error {
	return IterateFile(w.f, func(r Record) error {
		if r.LSN >= w.nextLSN {
			w.nextLSN = r.LSN + 1
		}
		return nil
	})
}

// Append writes one record, returning the LSN it was assigned. WAL LSNs
// are strictly monotonic within a file; Append does not fsync — callers
// batch durability through Commit or Flush.
func (w *WAL) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.nextLSN
	w.nextLSN++

	buf := encodeRecord(rec)
	if _, err := w.w.Write(buf); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	return rec.LSN, nil
}

// NextLSN returns the LSN that would be assigned to the next Append,
// without consuming it. Checkpoint uses this as the truncation point
// once every dirty page has been flushed to disk.
func (w *WAL) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Commit appends a COMMIT record for txn and fsyncs before returning.
// Only after this call returns successfully may the caller acknowledge
// the transaction as committed.
func (w *WAL) Commit(txn uint32) (uint64, error) {
	lsn, err := w.Append(Record{TxnID: txn, Op: OpCommit})
	if err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Flush fsyncs the journal file.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := unix.Fdatasync(int(w.f.Fd())); err != nil {
		return fmt.Errorf("wal: fdatasync: %w", err)
	}
	return nil
}

func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// IterateFrom calls fn for every record with lsn >= from, in order, for
// crash recovery. Iteration stops at the first fn error (returned to the
// caller) or a truncated trailing record, which is silently discarded:
// a record cut short by a crash mid-write never happened as far as
// recovery is concerned.
func (w *WAL) IterateFrom(from uint64, fn func(Record) error) error {
	w.mu.Lock()
	if err := w.w.Flush(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	return IterateFile(w.f, func(r Record) error {
		if r.LSN < from {
			return nil
		}
		return fn(r)
	})
}

// TruncateTo drops every record with lsn < lsnCkpt by rewriting the log
// with only the surviving tail, after a checkpoint.
func (w *WAL) TruncateTo(lsnCkpt uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return err
	}

	var kept []Record
	err := IterateFile(w.f, func(r Record) error {
		if r.LSN >= lsnCkpt {
			kept = append(kept, r)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.w = bufio.NewWriter(w.f)
	for _, r := range kept {
		if _, err := w.w.Write(encodeRecord(r)); err != nil {
			return err
		}
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	log.WithField("lsn", lsnCkpt).Info("wal: truncated")
	return unix.Fdatasync(int(w.f.Fd()))
}

// encodeRecord serializes a record as length(u32) | lsn(u64) | txn_id(u32)
// | op(u8) | payload | crc32(u32). The length field covers only the
// payload; the CRC covers the header and payload together.
func encodeRecord(r Record) []byte {
	payload := encodePayload(r)

	total := 4 + 8 + 4 + 1 + len(payload) + 4
	buf := make([]byte, total)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(payload)))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], r.LSN)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], r.TxnID)
	off += 4
	buf[off] = byte(r.Op)
	off++
	copy(buf[off:], payload)
	off += len(payload)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], crc)
	return buf
}

func encodePayload(r Record) []byte {
	switch r.Op {
	case OpCommit, OpRollback, OpCheckpoint:
		return nil
	default:
		buf := make([]byte, 0, 32+len(r.Before)+len(r.After))
		buf = appendString(buf, r.Table)
		buf = append(buf, r.RID.Encode()...)
		buf = appendBytes(buf, r.Before)
		buf = appendBytes(buf, r.After)
		return buf
	}
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

// IterateFile walks the raw WAL file content, used both by a live *WAL
// (over its own handle) and by standalone recovery tooling.
func IterateFile(f *os.File, fn func(Record) error) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)

	for {
		header := make([]byte, 4+8+4+1)
		n, err := io.ReadFull(r, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			return nil
		}
		if err != nil {
			// Truncated trailing record: discard, as if it never happened.
			return nil
		}

		payloadLen := binary.BigEndian.Uint32(header[0:4])
		lsn := binary.BigEndian.Uint64(header[4:12])
		txnID := binary.BigEndian.Uint32(header[12:16])
		op := Op(header[16])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil
		}
		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			return nil
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf)

		full := make([]byte, 0, len(header)+len(payload))
		full = append(full, header...)
		full = append(full, payload...)
		if crc32.ChecksumIEEE(full) != wantCRC {
			// Corrupt trailing record: treat as if never written.
			return nil
		}

		rec := Record{LSN: lsn, TxnID: txnID, Op: op}
		if op != OpCommit && op != OpRollback && op != OpCheckpoint {
			if err := decodePayload(payload, &rec); err != nil {
				return nil
			}
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
}

func decodePayload(buf []byte, rec *Record) error {
	var ok bool
	buf, rec.Table, ok = takeString(buf)
	if !ok {
		return fmt.Errorf("wal: bad record: table")
	}
	if len(buf) < rid.Size {
		return fmt.Errorf("wal: bad record: rid")
	}
	r, err := rid.Decode(buf[:rid.Size])
	if err != nil {
		return err
	}
	rec.RID = r
	buf = buf[rid.Size:]

	buf, rec.Before, ok = takeBytes(buf)
	if !ok {
		return fmt.Errorf("wal: bad record: before")
	}
	_, rec.After, ok = takeBytes(buf)
	if !ok {
		return fmt.Errorf("wal: bad record: after")
	}
	return nil
}

func takeBytes(buf []byte) ([]byte, []byte, bool) {
	if len(buf) < 4 {
		return buf, nil, false
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if len(buf) < int(n) {
		return buf, nil, false
	}
	if n == 0 {
		return buf[n:], nil, true
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return buf[n:], out, true
}

func takeString(buf []byte) ([]byte, string, bool) {
	rest, b, ok := takeBytes(buf)
	return rest, string(b), ok
}
