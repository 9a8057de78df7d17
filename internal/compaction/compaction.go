// Package compaction implements the tiered compaction engine described in
// spec.md §4.5: level discovery from a directory listing, a capacity
// check driving the compaction loop, and the newest-wins k-way merge that
// folds one level's files into a single file at the next level.
//
// This package also owns the single sequence counter used to mint every
// SSTable filename in the database, including L0 flushes — spec.md §9
// flags the reference implementation's two independent counters as a
// filename-collision risk, and SPEC_FULL.md §1-9 resolves that by routing
// all naming through Context.NextSeq.
package compaction

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/mnoura/lsmkv/internal/memtable"
	"github.com/mnoura/lsmkv/internal/slice"
	"github.com/mnoura/lsmkv/internal/sstable"
)

// MaxLevels is the number of levels, 0..MaxLevels-1.
const MaxLevels = 7

// ErrLastLevel is returned by Compact for the last level, which has no
// next level to merge into.
var ErrLastLevel = errors.New("compaction: cannot compact the last level")

var filenamePattern = regexp.MustCompile(`^L(\d+)_(\d{10})\.sst$`)

// Filename returns the canonical SSTable filename for a level and
// sequence number: L<level>_<10-digit zero-padded seq>.sst.
func Filename(level int, seq uint64) string {
	return fmt.Sprintf("L%d_%010d.sst", level, seq)
}

// Capacity returns the maximum number of files level may hold before it
// must be compacted: 4 for L0, 4*4^n for Ln.
func Capacity(level int) int {
	n := 4
	for i := 0; i < level; i++ {
		n *= 4
	}
	return n
}

// Context tracks, per level, the set of on-disk SSTable paths, and mints
// sequence numbers for new files. Level 0's list is ordered oldest-first
// by creation; every level's list is kept sorted the same way, since
// sequence numbers are zero-padded and path order equals seq order.
type Context struct {
	dir    string
	levels [][]string
	seq    uint64
	log    *logrus.Entry
}

// Init scans dir for files named L<level>_<seq>.sst, groups them by
// level (rejecting out-of-range levels and ignoring unrecognized names —
// see SPEC_FULL.md §12), and sets the sequence counter to one past the
// highest sequence observed across every level.
func Init(dir string, log *logrus.Entry) (*Context, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	levels := make([][]string, MaxLevels)
	var maxSeq uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		level, seq, ok := parseFilename(e.Name())
		if !ok {
			log.WithField("file", e.Name()).Debug("ignoring unrecognized entry in data directory")
			continue
		}
		if level < 0 || level >= MaxLevels {
			log.WithField("file", e.Name()).Warn("ignoring sstable with out-of-range level")
			continue
		}
		levels[level] = append(levels[level], filepath.Join(dir, e.Name()))
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	for i := range levels {
		sort.Strings(levels[i])
	}

	return &Context{dir: dir, levels: levels, seq: maxSeq + 1, log: log}, nil
}

func parseFilename(name string) (level int, seq uint64, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	lvl, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	sq, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return lvl, sq, true
}

// NextSeq returns a fresh, strictly increasing sequence number.
func (c *Context) NextSeq() uint64 {
	s := c.seq
	c.seq++
	return s
}

// PeekSeq returns the next sequence number NextSeq will mint, without
// consuming it. Used by stats/diagnostic reporting.
func (c *Context) PeekSeq() uint64 { return c.seq }

// Dir returns the directory this context manages.
func (c *Context) Dir() string { return c.dir }

// Level returns level's file paths, oldest-first. The returned slice must
// not be mutated by the caller.
func (c *Context) Level(level int) []string { return c.levels[level] }

// FileCount returns the number of files currently at level.
func (c *Context) FileCount(level int) int { return len(c.levels[level]) }

// AppendLevel0 registers a newly flushed L0 file with the level set.
func (c *Context) AppendLevel0(path string) {
	c.levels[0] = append(c.levels[0], path)
}

// ShouldCompact scans levels 0..MaxLevels-1 and returns the lowest level
// whose file count has reached its capacity, if any.
func (c *Context) ShouldCompact() (level int, ok bool) {
	for lvl := 0; lvl < MaxLevels; lvl++ {
		if len(c.levels[lvl]) >= Capacity(lvl) {
			return lvl, true
		}
	}
	return 0, false
}

// Compact merges every file at level into a single new file at level+1,
// resolving duplicate keys by letting the newest source (the highest
// list index) win, and preserving tombstones. On success the source
// files are removed and the level lists are updated; on any failure,
// opened iterators are closed, the transient MemTable is discarded, and
// on-disk state is left exactly as it was.
func (c *Context) Compact(level int) error {
	if level == MaxLevels-1 {
		return ErrLastLevel
	}
	srcs := c.levels[level]
	if len(srcs) == 0 {
		return nil
	}

	iters := make([]*tableIter, 0, len(srcs))
	defer func() {
		for _, it := range iters {
			_ = it.it.Close()
		}
	}()
	for rank, path := range srcs {
		it, err := sstable.IterOpen(path)
		if err != nil {
			return err
		}
		ti := &tableIter{rank: rank, it: it}
		if err := ti.advance(); err != nil {
			return err
		}
		iters = append(iters, ti)
	}

	mt := memtable.New()
	if err := mergeInto(mt, iters); err != nil {
		return err
	}

	outSeq := c.NextSeq()
	outPath := filepath.Join(c.dir, Filename(level+1, outSeq))
	if err := sstable.Write(outPath, mt); err != nil {
		return err
	}

	for _, p := range srcs {
		if err := os.Remove(p); err != nil {
			c.log.WithError(err).WithField("file", p).Warn("failed to remove obsolete sstable after compaction")
		}
	}
	c.levels[level] = nil
	c.levels[level+1] = append(c.levels[level+1], outPath)

	c.log.WithFields(logrus.Fields{
		"level": level, "sources": len(srcs), "output": outPath,
	}).Info("compaction merged level")
	return nil
}

type tableIter struct {
	rank int
	it   *sstable.Iterator
	cur  memtable.Record
	has  bool
}

func (ti *tableIter) advance() error {
	rec, ok, err := ti.it.Next()
	if err != nil {
		return err
	}
	ti.has = ok
	if ok {
		ti.cur = rec
	}
	return nil
}

type mergeHeap []*tableIter

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return bytes.Compare(h[i].cur.Key, h[j].cur.Key) < 0 }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*tableIter)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeInto performs the k-way merge described in spec.md §4.5: the
// smallest current key wins each round; among iterators presenting an
// equal key, the one with the highest rank (newest source) is kept and
// every tied iterator is advanced past that key.
func mergeInto(mt *memtable.MemTable, iters []*tableIter) error {
	h := &mergeHeap{}
	heap.Init(h)
	for _, it := range iters {
		if it.has {
			heap.Push(h, it)
		}
	}

	var groupKey []byte
	var best memtable.Record
	bestRank := -1
	haveGroup := false

	flush := func() {
		if !haveGroup {
			return
		}
		mt.Put(best.Key, best.Value, best.Tombstone)
		haveGroup = false
	}

	for h.Len() > 0 {
		ti := heap.Pop(h).(*tableIter)
		if !haveGroup || !bytes.Equal(ti.cur.Key, groupKey) {
			flush()
			groupKey = slice.Clone(ti.cur.Key)
			best = ti.cur
			bestRank = ti.rank
			haveGroup = true
		} else if ti.rank > bestRank {
			best = ti.cur
			bestRank = ti.rank
		}

		if err := ti.advance(); err != nil {
			return err
		}
		if ti.has {
			heap.Push(h, ti)
		}
	}
	flush()
	return nil
}
