package compaction

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mnoura/lsmkv/internal/memtable"
	"github.com/mnoura/lsmkv/internal/sstable"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func writeAllBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func writeTable(t *testing.T, dir string, level int, seq uint64, entries ...[3]string) string {
	t.Helper()
	mt := memtable.New()
	for _, e := range entries {
		mt.Put([]byte(e[0]), []byte(e[1]), e[2] == "del")
	}
	path := filepath.Join(dir, Filename(level, seq))
	if err := sstable.Write(path, mt); err != nil {
		t.Fatalf("sstable.Write: %v", err)
	}
	return path
}

func TestCapacityGeometricGrowth(t *testing.T) {
	cases := map[int]int{0: 4, 1: 16, 2: 64, 3: 256}
	for level, want := range cases {
		if got := Capacity(level); got != want {
			t.Fatalf("Capacity(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestInitDiscoversLevelsAndMaxSeq(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 3, [3]string{"a", "1", ""})
	writeTable(t, dir, 0, 5, [3]string{"b", "2", ""})
	writeTable(t, dir, 1, 2, [3]string{"c", "3", ""})

	ctx, err := Init(dir, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if ctx.FileCount(0) != 2 {
		t.Fatalf("FileCount(0) = %d, want 2", ctx.FileCount(0))
	}
	if ctx.FileCount(1) != 1 {
		t.Fatalf("FileCount(1) = %d, want 1", ctx.FileCount(1))
	}
	if got := ctx.NextSeq(); got != 6 {
		t.Fatalf("NextSeq() = %d, want 6 (max observed 5, plus 1)", got)
	}
}

func TestInitIgnoresUnrecognizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 1, [3]string{"a", "1", ""})
	if err := writeAllBytes(filepath.Join(dir, "README.txt"), []byte("hello")); err != nil {
		t.Fatalf("writeAllBytes: %v", err)
	}

	ctx, err := Init(dir, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if ctx.FileCount(0) != 1 {
		t.Fatalf("FileCount(0) = %d, want 1 (unrecognized file should be skipped)", ctx.FileCount(0))
	}
}

func TestCompactMergesNewestWinsOnKeyTie(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 1, [3]string{"a", "old", ""}, [3]string{"b", "b1", ""})
	writeTable(t, dir, 0, 2, [3]string{"a", "new", ""}, [3]string{"c", "c1", ""})

	ctx, err := Init(dir, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctx.Compact(0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if ctx.FileCount(0) != 0 {
		t.Fatalf("FileCount(0) = %d, want 0 after compaction", ctx.FileCount(0))
	}
	if ctx.FileCount(1) != 1 {
		t.Fatalf("FileCount(1) = %d, want 1 after compaction", ctx.FileCount(1))
	}

	tbl, err := sstable.Open(ctx.Level(1)[0])
	if err != nil {
		t.Fatalf("sstable.Open: %v", err)
	}
	defer func() { _ = tbl.Close() }()

	rec, ok, err := tbl.Get([]byte("a"))
	if err != nil || !ok || string(rec.Value) != "new" {
		t.Fatalf("Get(a) = %+v, %v, %v, want newest value 'new'", rec, ok, err)
	}
	if tbl.EntryCount() != 3 {
		t.Fatalf("EntryCount() = %d, want 3 (a, b, c deduplicated)", tbl.EntryCount())
	}
}

func TestShouldCompactReportsLowestOverCapacityLevel(t *testing.T) {
	dir := t.TempDir()
	for i := uint64(1); i <= 4; i++ {
		writeTable(t, dir, 0, i, [3]string{"k", "v", ""})
	}
	ctx, err := Init(dir, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	level, ok := ctx.ShouldCompact()
	if !ok || level != 0 {
		t.Fatalf("ShouldCompact() = %d, %v, want 0, true", level, ok)
	}
}

func TestCompactLastLevelFails(t *testing.T) {
	dir := t.TempDir()
	ctx, err := Init(dir, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctx.Compact(MaxLevels - 1); err != ErrLastLevel {
		t.Fatalf("Compact(last level) = %v, want ErrLastLevel", err)
	}
}
