package box

import "testing"

func TestTake(t *testing.T) {
	b := Make(42, nil)
	if v := Take[int](b); v != 42 {
		t.Fatalf("got %v want 42", v)
	}
}

func TestTakeTwicePanics(t *testing.T) {
	b := Make("x", nil)
	Take[string](b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second take")
		}
	}()
	Take[string](b)
}

func TestDestroyInvokesDestructor(t *testing.T) {
	var destroyed any
	b := Make(7, func(v any) { destroyed = v })
	Destroy(b)
	if destroyed != 7 {
		t.Fatalf("destroy did not see payload: %v", destroyed)
	}
}

func TestDestroyThenTakePanics(t *testing.T) {
	b := Make(1, nil)
	Destroy(b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Take[int](b)
}

func TestTakeThenDestroyPanics(t *testing.T) {
	b := Make(1, func(any) { t.Fatal("destroy must not run after take") })
	Take[int](b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Destroy(b)
}
