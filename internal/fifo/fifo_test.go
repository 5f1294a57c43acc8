package fifo

import "testing"

func seq(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func TestPushPopInOrder(t *testing.T) {
	f := New(10)
	f.Push(seq(5, 0))

	out := make([]int16, 5)
	n := f.Pop(out)
	if n != 5 {
		t.Fatalf("Pop returned %d, want 5", n)
	}
	for i, v := range out {
		if v != int16(i) {
			t.Errorf("out[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestPopShortReadWhenUnderfull(t *testing.T) {
	f := New(10)
	f.Push(seq(3, 0))

	out := make([]int16, 8)
	n := f.Pop(out)
	if n != 3 {
		t.Errorf("Pop returned %d, want 3", n)
	}
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	f := New(5)
	f.Push(seq(5, 0)) // 0,1,2,3,4
	f.Push(seq(3, 100)) // 100,101,102 -> drops 0,1,2

	out := make([]int16, 5)
	n := f.Pop(out)
	if n != 5 {
		t.Fatalf("Pop returned %d, want 5", n)
	}
	want := []int16{3, 4, 100, 101, 102}
	for i, v := range out {
		if v != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestPushLargerThanCapacityKeepsTail(t *testing.T) {
	f := New(4)
	f.Push(seq(10, 0)) // 0..9, only last 4 (6,7,8,9) survive

	out := make([]int16, 4)
	f.Pop(out)
	want := []int16{6, 7, 8, 9}
	for i, v := range out {
		if v != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestLenTracksCount(t *testing.T) {
	f := New(10)
	if f.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 initially", f.Len())
	}
	f.Push(seq(4, 0))
	if f.Len() != 4 {
		t.Errorf("Len() = %d, want 4", f.Len())
	}
	f.Pop(make([]int16, 2))
	if f.Len() != 2 {
		t.Errorf("Len() = %d, want 2", f.Len())
	}
}

func TestReset(t *testing.T) {
	f := New(10)
	f.Push(seq(5, 0))
	f.Reset()
	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Reset", f.Len())
	}
}

func TestWrapAroundAfterMultiplePushPop(t *testing.T) {
	f := New(4)
	f.Push(seq(3, 0)) // 0,1,2
	f.Pop(make([]int16, 2)) // consume 0,1; leaves 2
	f.Push(seq(3, 10)) // 10,11,12 -> total would be 4: 2,10,11,12

	out := make([]int16, 4)
	n := f.Pop(out)
	if n != 4 {
		t.Fatalf("Pop returned %d, want 4", n)
	}
	want := []int16{2, 10, 11, 12}
	for i, v := range out {
		if v != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, v, want[i])
		}
	}
}
