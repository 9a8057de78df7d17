// Package sstable implements the immutable on-disk SSTable format from
// spec.md §4.3: a data section in ascending key order, an index section of
// (key, offset) pairs, and a fixed 24-byte footer anchoring both.
//
// Layout (all integers little-endian, see spec.md §9):
//
//	[data]   key_len:u32 | key | val_len:u32 | val | tombstone:u8   (repeated)
//	[index]  key_len:u32 | key | record_offset:u64                 (repeated)
//	[footer] index_offset:u64 | entry_count:u64 | magic:u32 | pad:u32
//
// magic is 0x4C534D54 ('LSMT'). Once written, a Table is never modified;
// it is only opened, read, and eventually removed by compaction.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mnoura/lsmkv/internal/memtable"
	"github.com/mnoura/lsmkv/internal/slice"
)

const (
	magic      uint32 = 0x4C534D54
	footerSize        = 8 + 8 + 4 + 4
)

// ErrCorrupt indicates a footer magic mismatch, a truncated index, or a
// stored key that disagrees with its index entry.
var ErrCorrupt = errors.New("sstable: corrupt table")

type indexEntry struct {
	key    []byte
	offset uint64
}

// Table is a handle to an opened SSTable: a file descriptor for data
// reads plus its in-memory index, both owned by the handle for its
// lifetime.
type Table struct {
	path  string
	f     *os.File
	index []indexEntry
}

// Write creates a new SSTable at path from mt's contents, walked in
// ascending key order. The file is written to a temporary sibling name
// (suffixed with a random UUID so concurrent writers never collide),
// fsynced, and atomically renamed into place — see SPEC_FULL.md §11 and
// spec.md §9 "Atomic file publication". On any failure the temporary file
// is removed and path is left untouched.
func Write(path string, mt *memtable.MemTable) (err error) {
	tmpPath := path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriterSize(f, 64*1024)
	var offset uint64
	var index []indexEntry
	var entryCount uint64

	mt.Ascend(func(rec memtable.Record) bool {
		index = append(index, indexEntry{key: slice.Clone(rec.Key), offset: offset})
		var n int
		n, err = writeDataEntry(w, rec)
		if err != nil {
			return false
		}
		offset += uint64(n)
		entryCount++
		return true
	})
	if err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}

	indexOffset := offset
	for _, e := range index {
		if err = writeIndexEntry(w, e); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:16], entryCount)
	binary.LittleEndian.PutUint32(footer[16:20], magic)
	binary.LittleEndian.PutUint32(footer[20:24], 0)
	if _, err = w.Write(footer[:]); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir best-effort fsyncs a directory so a rename into it is durable.
// Some platforms (and in-memory filesystems used in tests) reject
// directory fsync; failures here are not propagated since the rename
// itself already succeeded.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func writeDataEntry(w *bufio.Writer, rec memtable.Record) (int, error) {
	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(rec.Key)))
	var vlen [4]byte
	binary.LittleEndian.PutUint32(vlen[:], uint32(len(rec.Value)))
	var tomb byte
	if rec.Tombstone {
		tomb = 1
	}

	n := 0
	for _, chunk := range [][]byte{klen[:], rec.Key, vlen[:], rec.Value, {tomb}} {
		m, err := w.Write(chunk)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func writeIndexEntry(w *bufio.Writer, e indexEntry) error {
	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(e.key)))
	if _, err := w.Write(klen[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.key); err != nil {
		return err
	}
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], e.offset)
	_, err := w.Write(off[:])
	return err
}

// Open opens an existing SSTable, verifies its footer, and loads the
// index into memory. The file handle is kept open for subsequent Get
// calls and must be released with Close.
func Open(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() < footerSize {
		_ = f.Close()
		return nil, ErrCorrupt
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, st.Size()-footerSize); err != nil {
		_ = f.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint32(footer[16:20]) != magic {
		_ = f.Close()
		return nil, ErrCorrupt
	}
	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	entryCount := binary.LittleEndian.Uint64(footer[8:16])
	if indexOffset > uint64(st.Size()) {
		_ = f.Close()
		return nil, ErrCorrupt
	}

	if _, err := f.Seek(int64(indexOffset), io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	r := bufio.NewReaderSize(f, 64*1024)
	index := make([]indexEntry, 0, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		var klen [4]byte
		if _, err := io.ReadFull(r, klen[:]); err != nil {
			_ = f.Close()
			return nil, ErrCorrupt
		}
		key := make([]byte, binary.LittleEndian.Uint32(klen[:]))
		if _, err := io.ReadFull(r, key); err != nil {
			_ = f.Close()
			return nil, ErrCorrupt
		}
		var off [8]byte
		if _, err := io.ReadFull(r, off[:]); err != nil {
			_ = f.Close()
			return nil, ErrCorrupt
		}
		index = append(index, indexEntry{key: key, offset: binary.LittleEndian.Uint64(off[:])})
	}

	return &Table{path: path, f: f, index: index}, nil
}

// Close releases the file handle backing t.
func (t *Table) Close() error {
	if t == nil || t.f == nil {
		return nil
	}
	return t.f.Close()
}

// Path returns the table's file path.
func (t *Table) Path() string { return t.path }

// EntryCount returns the number of index entries, i.e. the number of
// records in the table.
func (t *Table) EntryCount() int { return len(t.index) }

// Get performs a binary-search point lookup for key.
func (t *Table) Get(key []byte) (memtable.Record, bool, error) {
	lo, hi := 0, len(t.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(t.index[mid].key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(t.index) || !bytes.Equal(t.index[lo].key, key) {
		return memtable.Record{}, false, nil
	}

	if _, err := t.f.Seek(int64(t.index[lo].offset), io.SeekStart); err != nil {
		return memtable.Record{}, false, err
	}
	r := bufio.NewReaderSize(t.f, 4096)
	rec, ok, err := readDataEntry(r)
	if err != nil {
		return memtable.Record{}, false, err
	}
	if !ok {
		return memtable.Record{}, false, ErrCorrupt
	}
	if !bytes.Equal(rec.Key, key) {
		return memtable.Record{}, false, ErrCorrupt
	}
	return rec, true, nil
}

func readDataEntry(r *bufio.Reader) (memtable.Record, bool, error) {
	var klen [4]byte
	if _, err := io.ReadFull(r, klen[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return memtable.Record{}, false, nil
		}
		return memtable.Record{}, false, err
	}
	key := make([]byte, binary.LittleEndian.Uint32(klen[:]))
	if _, err := io.ReadFull(r, key); err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	var vlen [4]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	val := make([]byte, binary.LittleEndian.Uint32(vlen[:]))
	if _, err := io.ReadFull(r, val); err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	tomb, err := r.ReadByte()
	if err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	return memtable.Record{Key: key, Value: val, Tombstone: tomb == 1}, true, nil
}

// Iterator walks a table's data section sequentially from byte 0.
type Iterator struct {
	f         *os.File
	r         *bufio.Reader
	remaining uint64
}

// IterOpen opens path for sequential iteration over its data section.
func IterOpen(path string) (*Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() < footerSize {
		_ = f.Close()
		return nil, ErrCorrupt
	}
	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, st.Size()-footerSize); err != nil {
		_ = f.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint32(footer[16:20]) != magic {
		_ = f.Close()
		return nil, ErrCorrupt
	}
	entryCount := binary.LittleEndian.Uint64(footer[8:16])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Iterator{f: f, r: bufio.NewReaderSize(f, 64*1024), remaining: entryCount}, nil
}

// Next returns the next record in the table, or ok=false when the table
// is exhausted.
func (it *Iterator) Next() (memtable.Record, bool, error) {
	if it.remaining == 0 {
		return memtable.Record{}, false, nil
	}
	rec, ok, err := readDataEntry(it.r)
	if err != nil {
		return memtable.Record{}, false, err
	}
	if !ok {
		it.remaining = 0
		return memtable.Record{}, false, nil
	}
	it.remaining--
	return rec, true, nil
}

// Close releases the iterator's file handle.
func (it *Iterator) Close() error {
	if it == nil || it.f == nil {
		return nil
	}
	return it.f.Close()
}
