package memtable

import (
	"bytes"
	"testing"
)

func TestPutReplaceKeepsLenConstant(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v1"), false)
	m.Put([]byte("k"), []byte("v2"), false)
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	rec, ok := m.Get([]byte("k"))
	if !ok || !bytes.Equal(rec.Value, []byte("v2")) {
		t.Fatalf("Get(k) = %+v, %v, want v2, true", rec, ok)
	}
}

func TestDeleteShadowsEarlierPut(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v1"), false)
	m.Put([]byte("k"), nil, true)
	rec, ok := m.Get([]byte("k"))
	if !ok {
		t.Fatal("Get(k) = not found, want tombstone hit")
	}
	if !rec.Tombstone {
		t.Fatalf("rec.Tombstone = false, want true")
	}
}

func TestGetNotFound(t *testing.T) {
	m := New()
	if _, ok := m.Get([]byte("missing")); ok {
		t.Fatal("Get(missing) = found, want not found")
	}
}

func TestAscendOrdersKeys(t *testing.T) {
	m := New()
	for _, k := range []string{"c", "a", "b"} {
		m.Put([]byte(k), []byte("v"), false)
	}
	var seen []string
	m.Ascend(func(rec Record) bool {
		seen = append(seen, string(rec.Key))
		return true
	})
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("Ascend order = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Ascend order = %v, want %v", seen, want)
		}
	}
}

func TestSizeBytesTracksReplace(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("aaaaa"), false)
	afterInsert := m.SizeBytes()
	m.Put([]byte("k"), []byte("a"), false)
	if m.SizeBytes() >= afterInsert {
		t.Fatalf("SizeBytes() = %d, want less than %d after shrinking value", m.SizeBytes(), afterInsert)
	}
}

func TestPutCopiesKeyAndValue(t *testing.T) {
	m := New()
	k := []byte("k")
	v := []byte("v")
	m.Put(k, v, false)
	k[0] = 'x'
	v[0] = 'x'
	rec, ok := m.Get([]byte("k"))
	if !ok || !bytes.Equal(rec.Value, []byte("v")) {
		t.Fatalf("mutating caller buffers after Put affected stored record: %+v", rec)
	}
}
