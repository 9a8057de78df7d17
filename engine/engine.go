// Package engine composes the memtable, walio, sstable, flush, and
// compaction packages into the database lifecycle and read path described
// in spec.md §4.6: open/put/get/delete/close behind a single lock, with
// WAL recovery on open and a synchronous flush+compaction loop on put.
package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mnoura/lsmkv/internal/compaction"
	"github.com/mnoura/lsmkv/internal/flush"
	"github.com/mnoura/lsmkv/internal/lsmlog"
	"github.com/mnoura/lsmkv/internal/memtable"
	"github.com/mnoura/lsmkv/internal/sstable"
	"github.com/mnoura/lsmkv/internal/walio"
)

// ErrClosed is returned by any operation on a DB after Close has run.
var ErrClosed = errors.New("engine: database is closed")

// ErrEmptyKey is returned by Put/Get/Delete for a zero-length key
// (spec.md §7 "Bounds / argument error").
var ErrEmptyKey = errors.New("engine: empty key")

const walFileName = "wal.log"

// DB is an embedded LSM-tree key/value store. All exported methods are
// safe for concurrent use; they serialize on a single internal mutex, per
// spec.md §5's single-writer, single-reader-at-a-time model.
type DB struct {
	mu     sync.Mutex
	closed bool

	opts Options
	log  *logrus.Entry

	walPath string
	wal     *walio.WAL
	mem     *memtable.MemTable

	ctx     *compaction.Context
	flusher *flush.Pipeline
}

// Open creates dir if missing, recovers the WAL into a fresh MemTable,
// scans dir to rebuild the level set, and returns a ready DB. See
// spec.md §4.6 and the corrected recovery behavior in SPEC_FULL.md §9.
func Open(opts Options) (*DB, error) {
	if opts.Dir == "" {
		return nil, errors.New("engine: Options.Dir must be set")
	}
	if opts.FlushThresholdBytes < 0 {
		return nil, errors.New("engine: Options.FlushThresholdBytes must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = lsmlog.New()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if err := cleanupTempFiles(opts.Dir); err != nil {
		return nil, err
	}

	log := lsmlog.Component(logger, "engine")

	ctx, err := compaction.Init(opts.Dir, lsmlog.Component(logger, "compaction"))
	if err != nil {
		return nil, err
	}

	mem := memtable.New()
	walPath := filepath.Join(opts.Dir, walFileName)
	recovered, err := walio.Recover(walPath, func(r walio.Record) error {
		mem.Put(r.Key, r.Value, r.Op == walio.OpDelete)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		log.WithField("records", recovered).Info("recovered memtable from write-ahead log")
	}

	w, err := walio.Open(walPath, opts.SyncOnWrite)
	if err != nil {
		return nil, err
	}

	d := &DB{
		opts:    opts,
		log:     log,
		walPath: walPath,
		wal:     w,
		mem:     mem,
		ctx:     ctx,
		flusher: flush.New(opts.Dir, ctx, lsmlog.Component(logger, "flush")),
	}
	return d, nil
}

// cleanupTempFiles removes any ".tmp-*" siblings left by an SSTable write
// that crashed before its atomic rename completed (spec.md §9, "Atomic
// file publication").
func cleanupTempFiles(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.Contains(e.Name(), ".tmp-") {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// Put inserts or replaces the value for key.
func (d *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.wal.Append(key, value, false); err != nil {
		return err
	}
	d.mem.Put(key, value, false)
	return d.maybeFlushLocked()
}

// Delete marks key as logically removed. It does not itself trigger a
// flush, per spec.md §4.6.
func (d *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.wal.Append(key, nil, true); err != nil {
		return err
	}
	d.mem.Put(key, nil, true)
	return nil
}

// Get returns the value for key, or ok=false if the key is absent or
// was deleted. The returned slice is owned by the caller.
func (d *DB) Get(key []byte) (value []byte, ok bool, err error) {
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false, ErrClosed
	}

	if rec, found := d.mem.Get(key); found {
		if rec.Tombstone {
			return nil, false, nil
		}
		return rec.Value, true, nil
	}

	for level := 0; level < compaction.MaxLevels; level++ {
		files := d.ctx.Level(level)
		for i := len(files) - 1; i >= 0; i-- {
			tbl, err := sstable.Open(files[i])
			if err != nil {
				return nil, false, err
			}
			rec, found, err := tbl.Get(key)
			closeErr := tbl.Close()
			if err != nil {
				return nil, false, err
			}
			if closeErr != nil {
				return nil, false, closeErr
			}
			if !found {
				continue
			}
			if rec.Tombstone {
				return nil, false, nil
			}
			return rec.Value, true, nil
		}
	}
	return nil, false, nil
}

// Close flushes any pending writes, drains outstanding compactions, and
// releases the database's file handles. Close is idempotent.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if d.mem.Len() > 0 {
		if err := d.flushLocked(); err != nil {
			return err
		}
	}
	if err := d.drainCompactionsLocked(); err != nil {
		return err
	}
	d.log.Info("database closed")
	return d.wal.Close()
}

// maybeFlushLocked flushes the MemTable and rotates the WAL once its byte
// size reaches opts.FlushThresholdBytes, then drains compactions until no
// level is over capacity. Called with d.mu held.
func (d *DB) maybeFlushLocked() error {
	if d.opts.FlushThresholdBytes <= 0 {
		return nil
	}
	if d.mem.SizeBytes() < int64(d.opts.FlushThresholdBytes) {
		return nil
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	return d.drainCompactionsLocked()
}

// flushLocked writes the current MemTable to a new L0 SSTable, registers
// it with the compaction context, retires the WAL that backed it, and
// installs a fresh MemTable and WAL in its place. Called with d.mu held.
func (d *DB) flushLocked() error {
	path, err := d.flusher.Flush(d.mem)
	if err != nil {
		return err
	}
	d.ctx.AppendLevel0(path)

	if err := d.wal.Close(); err != nil {
		return err
	}
	if err := d.flusher.RetireWAL(d.walPath); err != nil {
		return err
	}

	w, err := walio.Open(d.walPath, d.opts.SyncOnWrite)
	if err != nil {
		return err
	}
	d.wal = w
	d.mem.Free()
	return nil
}

// drainCompactionsLocked runs Compact on every over-capacity level until
// ShouldCompact reports none remaining. Called with d.mu held.
func (d *DB) drainCompactionsLocked() error {
	for {
		level, ok := d.ctx.ShouldCompact()
		if !ok {
			return nil
		}
		if err := d.ctx.Compact(level); err != nil {
			return err
		}
	}
}
