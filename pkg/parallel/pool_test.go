package parallel

import (
	"sync/atomic"
	"testing"
)

func TestTransformPreservesOrder(t *testing.T) {
	p := NewPool(4)
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := Transform(p, items, func(v int) int { return v * v })
	want := []int{1, 4, 9, 16, 25, 36, 49, 64}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("index %d: got %d, want %d", i, out[i], want[i])
		}
	}
}

func TestTransformEmptyInput(t *testing.T) {
	p := NewPool(4)
	out := Transform(p, []int{}, func(v int) int { return v })
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestExecuteRunsEveryItem(t *testing.T) {
	p := NewPool(2)
	var count int64
	items := make([]int, 50)
	Execute(p, items, func(int) { atomic.AddInt64(&count, 1) })
	if count != 50 {
		t.Fatalf("expected 50 executions, got %d", count)
	}
}

func TestExecuteUntilStopsOnFailure(t *testing.T) {
	p := NewPool(4)
	items := []int{1, 2, 3, 4, 5}
	ok := ExecuteUntil(p, items, func(v int) bool { return v != 3 })
	if ok {
		t.Fatal("expected ExecuteUntil to report false when one item failed")
	}
}

func TestExecuteUntilAllPass(t *testing.T) {
	p := NewPool(4)
	items := []int{2, 4, 6, 8}
	ok := ExecuteUntil(p, items, func(v int) bool { return v%2 == 0 })
	if !ok {
		t.Fatal("expected ExecuteUntil to report true when every item passed")
	}
}

func TestNewPoolDefaultsToGOMAXPROCS(t *testing.T) {
	p := NewPool(0)
	if p.workers <= 0 {
		t.Fatalf("expected a positive default worker count, got %d", p.workers)
	}
}
