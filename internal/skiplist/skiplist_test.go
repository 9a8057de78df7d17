package skiplist

import "testing"

func TestSetReplaceDoesNotGrowLen(t *testing.T) {
	l := New[int]()
	l.Set([]byte("k"), 1)
	l.Set([]byte("k"), 2)
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	v, ok := l.Get([]byte("k"))
	if !ok || v != 2 {
		t.Fatalf("Get(k) = %d, %v, want 2, true", v, ok)
	}
}

func TestGetMissing(t *testing.T) {
	l := New[int]()
	if _, ok := l.Get([]byte("missing")); ok {
		t.Fatal("Get(missing) = found, want not found")
	}
}

func TestAscendAscendingOrder(t *testing.T) {
	l := New[string]()
	for _, k := range []string{"d", "b", "a", "c"} {
		l.Set([]byte(k), k)
	}
	var seen []string
	l.Ascend(func(key []byte, value string) bool {
		seen = append(seen, string(key))
		return true
	})
	want := []string{"a", "b", "c", "d"}
	for i, k := range want {
		if seen[i] != k {
			t.Fatalf("Ascend order = %v, want %v", seen, want)
		}
	}
}

func TestAscendStopsEarly(t *testing.T) {
	l := New[int]()
	for i, k := range []string{"a", "b", "c"} {
		l.Set([]byte(k), i)
	}
	var count int
	l.Ascend(func(key []byte, value int) bool {
		count++
		return string(key) != "b"
	})
	if count != 2 {
		t.Fatalf("Ascend visited %d entries, want 2 (stop at b)", count)
	}
}
