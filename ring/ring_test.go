package ring

import "testing"

func TestPushPopFIFO(t *testing.T) {
	r := New[int](3)
	if !r.PushBack(1) || !r.PushBack(2) || !r.PushBack(3) {
		t.Fatal("expected pushes to succeed")
	}
	if r.PushBack(4) {
		t.Fatal("expected push on full ring to fail")
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := r.PopFront()
		if !ok || got != want {
			t.Fatalf("got %v,%v want %v", got, ok, want)
		}
	}
	if !r.Empty() {
		t.Fatal("expected empty")
	}
}

func TestPushFrontLIFO(t *testing.T) {
	r := New[int](3)
	r.PushBack(1)
	r.PushFront(0)
	got, _ := r.PopFront()
	if got != 0 {
		t.Fatalf("got %v want 0", got)
	}
}

func TestWraparound(t *testing.T) {
	r := New[int](2)
	r.PushBack(1)
	r.PopFront()
	r.PushBack(2)
	r.PushBack(3)
	if !r.Full() {
		t.Fatal("expected full")
	}
	got, _ := r.PopFront()
	if got != 2 {
		t.Fatalf("got %v want 2", got)
	}
}

func TestDequeueSkip(t *testing.T) {
	r := New[int](4)
	r.PushBack(1)
	r.PushBack(2)
	r.PushBack(3)
	skip := func(v int) bool { return v == 1 || v == 2 }
	got, ok := r.DequeueSkip(skip)
	if !ok || got != 3 {
		t.Fatalf("got %v,%v want 3", got, ok)
	}
	if !r.Empty() {
		t.Fatal("expected empty after skipping to end")
	}
}

func TestDequeueSkipAllSkipped(t *testing.T) {
	r := New[int](2)
	r.PushBack(1)
	r.PushBack(2)
	_, ok := r.DequeueSkip(func(int) bool { return true })
	if ok {
		t.Fatal("expected no entry found")
	}
	if !r.Empty() {
		t.Fatal("expected empty")
	}
}

func TestRange(t *testing.T) {
	r := New[int](3)
	r.PushBack(1)
	r.PushBack(2)
	var got []int
	r.Range(func(v int) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v", got)
	}
}
