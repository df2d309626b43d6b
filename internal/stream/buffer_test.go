package stream

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func frameN(n byte) *Frame {
	return &Frame{Data: []byte{n}, Width: 1, Height: 1, CapturedAt: time.Now()}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := byte(1); i <= 7; i++ {
		b.Publish(frameN(i))
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if b.Count() != 7 {
		t.Fatalf("Count = %d, want 7", b.Count())
	}

	snap := b.Snapshot()
	for i, want := range []byte{5, 6, 7} {
		if snap[i].Data[0] != want {
			t.Errorf("snapshot[%d] = %d, want %d", i, snap[i].Data[0], want)
		}
	}
}

func TestBuffer_LatestReturnsNewest(t *testing.T) {
	b := NewBuffer(5)
	b.Publish(frameN(1))
	b.Publish(frameN(2))

	f, err := b.Latest(time.Second)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if f.Data[0] != 2 {
		t.Errorf("Latest data = %d, want 2", f.Data[0])
	}
	if f.Seq != 2 {
		t.Errorf("Latest seq = %d, want 2", f.Seq)
	}
}

func TestBuffer_LatestTimesOut(t *testing.T) {
	b := NewBuffer(1)

	start := time.Now()
	_, err := b.Latest(50 * time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("err = %v, want ErrNoFrame", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("returned after %v, far past the timeout", elapsed)
	}
}

func TestBuffer_LatestUnblocksOnPublish(t *testing.T) {
	b := NewBuffer(1)

	got := make(chan *Frame, 1)
	fail := make(chan error, 1)
	go func() {
		f, err := b.Latest(5 * time.Second)
		if err != nil {
			fail <- err
			return
		}
		got <- f
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(frameN(9))

	select {
	case f := <-got:
		if f.Data[0] != 9 {
			t.Errorf("data = %d, want 9", f.Data[0])
		}
	case err := <-fail:
		t.Fatalf("Latest: %v", err)
	case <-time.After(time.Second):
		t.Fatal("Latest did not unblock on publish")
	}
}

func TestBuffer_LatestReturnsCopy(t *testing.T) {
	b := NewBuffer(1)
	b.Publish(frameN(1))

	f, err := b.Latest(time.Second)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	f.Data[0] = 0xFF

	again, err := b.Latest(time.Second)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if again.Data[0] != 1 {
		t.Errorf("stored frame mutated through the returned copy")
	}
}

func TestBuffer_ClosedFailsFast(t *testing.T) {
	b := NewBuffer(2)
	b.Publish(frameN(1))
	b.Close()

	if _, err := b.Latest(time.Second); !errors.Is(err, ErrStopped) {
		t.Errorf("Latest after Close: err = %v, want ErrStopped", err)
	}
	if _, err := b.WaitNext(0); !errors.Is(err, ErrStopped) {
		t.Errorf("WaitNext after Close: err = %v, want ErrStopped", err)
	}
}

func TestBuffer_CloseWakesWaiters(t *testing.T) {
	b := NewBuffer(1)

	results := make(chan error, 2)
	go func() {
		_, err := b.Latest(10 * time.Second)
		results <- err
	}()
	go func() {
		_, err := b.WaitNext(0)
		results <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrStopped) {
				t.Errorf("waiter %d: err = %v, want ErrStopped", i, err)
			}
		case <-time.After(time.Second):
			t.Fatal("Close did not wake all waiters")
		}
	}
}

func TestBuffer_CloseIdempotent(t *testing.T) {
	b := NewBuffer(1)
	b.Close()
	b.Close()
	b.Publish(frameN(1)) // no-op after close

	if b.Len() != 0 {
		t.Errorf("Len after publish-to-closed = %d, want 0", b.Len())
	}
	if !b.Closed() {
		t.Error("Closed = false after Close")
	}
}

func TestBuffer_ConcurrentPublishAndLatest(t *testing.T) {
	b := NewBuffer(4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := byte(1); i <= 100; i++ {
			b.Publish(frameN(i))
		}
	}()

	for i := 0; i < 50; i++ {
		if _, err := b.Latest(time.Second); err != nil {
			t.Fatalf("Latest during publish burst: %v", err)
		}
	}
	wg.Wait()

	if b.Count() != 100 {
		t.Errorf("Count = %d, want 100", b.Count())
	}
}

func TestIterator_NoRedelivery(t *testing.T) {
	b := NewBuffer(8)
	b.Publish(frameN(1)) // before the cursor; must not be delivered

	it := b.Iter()

	got := make(chan *Frame, 1)
	go func() {
		f, err := it.Next()
		if err == nil {
			got <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(frameN(2))

	select {
	case f := <-got:
		if f.Data[0] != 2 {
			t.Fatalf("iterator delivered %d, want 2", f.Data[0])
		}
		if f.Seq != 2 {
			t.Fatalf("iterator seq = %d, want 2", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("iterator did not observe new frame")
	}

	// Without a newer publish the iterator must block, then observe Close.
	done := make(chan error, 1)
	go func() {
		_, err := it.Next()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("iterator after close: err = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("iterator did not observe close")
	}
}

func TestBuffer_MinimumCapacity(t *testing.T) {
	b := NewBuffer(0)
	b.Publish(frameN(1))
	b.Publish(frameN(2))
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}
