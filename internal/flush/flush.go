// Package flush implements the flush pipeline from spec.md §4.4: turning
// a MemTable snapshot into a new L0 SSTable. WAL retirement is a separate
// step, RetireWAL, which the caller invokes after closing the WAL that
// backed the flushed MemTable (see engine.DB.flushLocked, used both by
// threshold-driven flushes and by Close).
package flush

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mnoura/lsmkv/internal/compaction"
	"github.com/mnoura/lsmkv/internal/memtable"
	"github.com/mnoura/lsmkv/internal/sstable"
)

// Sequencer mints the single, monotonically increasing sequence counter
// shared by flush and compaction output files (spec.md §9: "use a single
// sequence counter owned by the compaction context for all level
// outputs, including L0 flushes").
type Sequencer interface {
	NextSeq() uint64
}

// Pipeline materializes MemTables into new L0 SSTables.
type Pipeline struct {
	dir string
	seq Sequencer
	log *logrus.Entry
}

// New returns a Pipeline writing new L0 files under dir, numbered by seq.
func New(dir string, seq Sequencer, log *logrus.Entry) *Pipeline {
	return &Pipeline{dir: dir, seq: seq, log: log}
}

// Flush writes mt to a new L0 SSTable and returns its path. A failure at
// any step leaves the directory unchanged from the caller's observable
// standpoint: sstable.Write cleans up its own partial output on error.
func (p *Pipeline) Flush(mt *memtable.MemTable) (string, error) {
	seq := p.seq.NextSeq()
	path := filepath.Join(p.dir, compaction.Filename(0, seq))

	if err := sstable.Write(path, mt); err != nil {
		return "", err
	}

	p.log.WithFields(logrus.Fields{"path": path, "entries": mt.Len()}).Info("flushed memtable to L0")
	return path, nil
}

// RetireWAL removes the WAL file that backed a MemTable now safely
// flushed to an SSTable. A missing file is not an error.
func (p *Pipeline) RetireWAL(walPath string) error {
	if walPath == "" {
		return nil
	}
	err := os.Remove(walPath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
