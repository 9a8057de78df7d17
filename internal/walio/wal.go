// Package walio implements the write-ahead log described in spec.md §4.2:
// a file of framed records mirroring MemTable mutations, replayed on open
// to rebuild the MemTable. The wire format is fixed little-endian per the
// design note in spec.md §9 ("fix a single byte order").
//
// Frame layout:
//
//	type    u8      1 = put, 2 = delete
//	key_len u32
//	val_len u32
//	key     key_len bytes
//	val     val_len bytes
//	crc32   u32     IEEE 802.3 polynomial, over type||key_len||val_len||key||val
//
// Both length fields come before the key and value bytes; the lengths are
// not interleaved with the data (key_len|key|val_len|val is not the layout
// this package reads or writes).
package walio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

// Op identifies the kind of mutation a record represents.
type Op uint8

const (
	OpPut    Op = 1
	OpDelete Op = 2
)

// ErrCorrupt names a malformed WAL frame. Neither Append nor Recover
// returns it: Recover silently treats a corrupt tail as the end of the
// durable log.
var ErrCorrupt = errors.New("walio: corrupt record")

// ErrClosed is returned by Append on a WAL whose Close has run. Closing an
// already-closed WAL is a no-op that returns nil.
var ErrClosed = errors.New("walio: wal is closed")

const headerLen = 1 + 4 + 4 // type + key_len + val_len

// WAL is an append-only record stream backing a MemTable.
type WAL struct {
	f    *os.File
	w    *bufio.Writer
	sync bool
}

// Open opens path in append mode, creating it if it does not exist.
// Existing bytes are left intact. When sync is true, Append additionally
// calls File.Sync after every record (full fsync durability); otherwise
// only the buffered writer is flushed, matching spec.md §4.2's "reference
// model flushes the stream after each append".
func Open(path string, sync bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{f: f, w: bufio.NewWriterSize(f, 64*1024), sync: sync}, nil
}

// Close flushes any buffered bytes and closes the underlying file.
func (w *WAL) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := w.w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Append writes one frame for (key, value, tombstone) and flushes the
// stream buffer (and, if configured, fsyncs the file) before returning.
// No seeking is performed; frames are always appended at the current
// end of the file.
func (w *WAL) Append(key, value []byte, tombstone bool) error {
	if w == nil || w.f == nil {
		return ErrClosed
	}
	op := OpPut
	if tombstone {
		op = OpDelete
	}

	var hdr [headerLen]byte
	hdr[0] = byte(op)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(value)))

	crc := crc32.NewIEEE()
	_, _ = crc.Write(hdr[:])
	_, _ = crc.Write(key)
	_, _ = crc.Write(value)

	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(key); err != nil {
		return err
	}
	if _, err := w.w.Write(value); err != nil {
		return err
	}
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	if _, err := w.w.Write(sum[:]); err != nil {
		return err
	}

	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.sync {
		return w.f.Sync()
	}
	return nil
}

// Record is one replayed WAL frame.
type Record struct {
	Op    Op
	Key   []byte
	Value []byte
}

// Recover reads frames sequentially from byte 0 of path, invoking apply
// for each valid record in order. Replay stops, without error, at the
// first of: EOF, an unrecognized type byte, a short read in any
// subsequent field, or a CRC mismatch — a torn tail is treated as "no
// further durable records". It returns the number of records replayed.
// A missing file is not an error; it yields zero records.
func Recover(path string, apply func(Record) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	count := 0
	for {
		rec, ok, err := readFrame(r)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		if err := apply(rec); err != nil {
			return count, err
		}
		count++
	}
}

// readFrame reads one frame from r. ok=false with a nil error means a
// clean stop point (EOF or a torn/corrupt tail); a non-nil error means a
// genuine I/O failure unrelated to log corruption.
func readFrame(r *bufio.Reader) (Record, bool, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	op := Op(opByte)
	if op != OpPut && op != OpDelete {
		return Record{}, false, nil
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, false, nil
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[0:4])
	valLen := binary.LittleEndian.Uint32(lenBuf[4:8])

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Record{}, false, nil
	}
	val := make([]byte, valLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return Record{}, false, nil
	}
	var sumBuf [4]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return Record{}, false, nil
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte{byte(op)})
	_, _ = crc.Write(lenBuf[:])
	_, _ = crc.Write(key)
	_, _ = crc.Write(val)
	if crc.Sum32() != binary.LittleEndian.Uint32(sumBuf[:]) {
		return Record{}, false, nil
	}

	return Record{Op: op, Key: key, Value: val}, true, nil
}
