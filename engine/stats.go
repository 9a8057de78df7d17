package engine

import (
	"os"
	"path/filepath"

	"github.com/mnoura/lsmkv/internal/compaction"
)

// Stats is a read-only snapshot of a DB's internal state, restoring the
// introspection original_source/lsm_compaction.c and lsm.c use for their
// own bookkeeping (see SPEC_FULL.md §12). It is diagnostic only: nothing
// in the engine package consults a Stats value to make a decision.
type Stats struct {
	MemTableEntries int
	MemTableBytes   int64

	// LevelFileCounts[i] is the number of SSTables currently at level i.
	LevelFileCounts [compaction.MaxLevels]int

	// TotalSSTableBytes is the combined on-disk size of every SSTable
	// across all levels.
	TotalSSTableBytes int64

	// NextSeq is the next sequence number a flush or compaction will
	// mint.
	NextSeq uint64
}

// Stats returns a snapshot of the database's current state, taken under
// the same lock as every other public operation.
func (d *DB) Stats() (Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Stats{}, ErrClosed
	}

	s := Stats{
		MemTableEntries: d.mem.Len(),
		MemTableBytes:   d.mem.SizeBytes(),
		NextSeq:         d.ctx.PeekSeq(),
	}
	for level := 0; level < compaction.MaxLevels; level++ {
		files := d.ctx.Level(level)
		s.LevelFileCounts[level] = len(files)
		for _, path := range files {
			if fi, err := os.Stat(filepath.Clean(path)); err == nil {
				s.TotalSSTableBytes += fi.Size()
			}
		}
	}
	return s, nil
}
