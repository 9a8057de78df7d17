package walio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Append([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append([]byte("b"), []byte("2"), false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append([]byte("a"), nil, true); err != nil {
		t.Fatalf("Append delete: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []Record
	n, err := Recover(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 3 {
		t.Fatalf("Recover returned %d, want 3", n)
	}
	if got[2].Op != OpDelete || !bytes.Equal(got[2].Key, []byte("a")) {
		t.Fatalf("third record = %+v, want delete of a", got[2])
	}
}

func TestRecoverMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	n, err := Recover(filepath.Join(dir, "absent.log"), func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 0 {
		t.Fatalf("Recover returned %d, want 0", n)
	}
}

func TestRecoverStopsCleanlyAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Append([]byte("x"), []byte("1"), false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append([]byte("y"), []byte("2"), false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	var got []Record
	n, err := Recover(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("Recover returned %d, want 1 (torn tail record dropped)", n)
	}
	if !bytes.Equal(got[0].Key, []byte("x")) {
		t.Fatalf("recovered record = %+v, want key x", got[0])
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Append([]byte("k"), []byte("v"), false); err == nil {
		t.Fatal("Append after Close succeeded, want error")
	}
}
