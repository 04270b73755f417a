package closer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSequentialOrdering(t *testing.T) {
	var order []int
	mk := func(n int) Closeable {
		return RunAction(func() { order = append(order, n) })
	}
	c := Sequential(mk(1), mk(2), mk(3))
	if _, err := c.Close(false).Verify(time.Second); err != nil {
		t.Fatal(err)
	}
	for i, v := range []int{1, 2, 3} {
		if order[i] != v {
			t.Fatalf("got order %v", order)
		}
	}
}

func TestParallelCompletesAll(t *testing.T) {
	var count int32
	mk := func() Closeable {
		return RunAction(func() { atomic.AddInt32(&count, 1) })
	}
	c := Parallel(mk(), mk(), mk())
	if _, err := c.Close(false).Verify(time.Second); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("got %d want 3", count)
	}
}

func TestOnceIdempotent(t *testing.T) {
	var calls int32
	inner := Func(func(immediate bool) *Future {
		atomic.AddInt32(&calls, 1)
		return Completed(nil, nil)
	})
	o := NewOnce(inner)
	f1 := o.Close(false)
	f2 := o.Close(true)
	if f1 != f2 {
		t.Fatal("expected same future returned on repeated close")
	}
	if calls != 1 {
		t.Fatalf("got %d calls want 1", calls)
	}
}

func TestBuilderOrdersStages(t *testing.T) {
	var order []string
	b := NewBuilder()
	b.Sequential(RunAction(func() { order = append(order, "handlers") }))
	b.Parallel(RunAction(func() { order = append(order, "streams") }))
	b.Run(func() { order = append(order, "transport") })
	c := b.Build()
	if _, err := c.Close(false).Verify(time.Second); err != nil {
		t.Fatal(err)
	}
	want := []string{"handlers", "streams", "transport"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestFutureVerifyTimeout(t *testing.T) {
	f := NewFuture()
	_, err := f.Verify(10 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v want ErrTimeout", err)
	}
}
