package slicest

import (
	"errors"
	"strconv"
	"testing"
)

func TestToMap(t *testing.T) {
	type kv struct {
		name string
		n    int
	}
	in := []kv{{"a", 1}, {"b", 2}, {"a", 3}}
	got := ToMap(in, func(e kv) (string, int) { return e.name, e.n })
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["a"] != 3 {
		t.Errorf("later entries should win: got[a] = %d, want 3", got["a"])
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMapXStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	_, err := MapX([]int{1, 2, 3}, func(n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 10, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("got %v, want [2 4]", got)
	}
}

func TestUniq(t *testing.T) {
	got := Uniq([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v, want [a b c]", got)
	}
}
