package stream

import (
	"sync"
	"time"
)

// Buffer is a bounded, insertion-ordered frame store with latest-wins
// semantics: when full, the oldest frame is evicted to admit the new one.
// The producer goroutine is the only writer; consumers block in Latest or
// WaitNext until a frame arrives or the buffer is closed.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   []*Frame
	capacity int
	count    uint64 // total frames ever published
	closed   bool
}

// NewBuffer creates a frame buffer holding at most capacity frames.
// A capacity below 1 is treated as 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{capacity: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends a frame, evicting the oldest when at capacity. It never
// blocks. Publishing to a closed buffer is a no-op.
func (b *Buffer) Publish(f *Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if len(b.frames) == b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames[len(b.frames)-1] = nil
		b.frames = b.frames[:len(b.frames)-1]
	}

	b.count++
	f.Seq = b.count
	b.frames = append(b.frames, f)
	b.cond.Broadcast()
}

// Latest blocks until at least one frame exists or the timeout elapses and
// returns a private copy of the most recent frame. It returns ErrNoFrame on
// timeout and ErrStopped once the buffer is closed.
func (b *Buffer) Latest(timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.frames) == 0 {
		if b.closed {
			return nil, ErrStopped
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoFrame
		}
		// sync.Cond has no timed wait; arm a wakeup for the deadline so
		// the loop re-checks and can return ErrNoFrame. The broadcast
		// takes the lock so it cannot slip between the deadline check and
		// the Wait.
		t := time.AfterFunc(remaining, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		t.Stop()
	}

	if b.closed {
		return nil, ErrStopped
	}

	return b.frames[len(b.frames)-1].Clone(), nil
}

// WaitNext blocks until the total publish count advances past lastSeq and
// returns a copy of the newest frame. It returns ErrStopped once the buffer
// is closed, so a pending wait cannot hang across shutdown.
func (b *Buffer) WaitNext(lastSeq uint64) (*Frame, error) {
	return b.waitNext(lastSeq, nil)
}

// waitNext additionally treats a closed done channel as terminal, so a wait
// bound to a producer ends on producer death, not only on Close.
func (b *Buffer) waitNext(lastSeq uint64, done <-chan struct{}) (*Frame, error) {
	if done != nil {
		// cond.Wait cannot select on a channel; a watcher broadcasts once
		// when done closes so the loop re-checks. Broadcasting under the
		// lock closes the window between the done check and the Wait.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-stop:
			}
		}()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count <= lastSeq || len(b.frames) == 0 {
		if b.closed {
			return nil, ErrStopped
		}
		if done != nil {
			select {
			case <-done:
				return nil, ErrStopped
			default:
			}
		}
		b.cond.Wait()
	}

	return b.frames[len(b.frames)-1].Clone(), nil
}

// Snapshot returns copies of all buffered frames, oldest first
func (b *Buffer) Snapshot() []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Frame, len(b.frames))
	for i, f := range b.frames {
		out[i] = f.Clone()
	}
	return out
}

// Count returns the total number of frames ever published
func (b *Buffer) Count() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Len returns the number of frames currently buffered
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Close marks the buffer stopped and wakes all blocked consumers.
// Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}

// Closed reports whether Close has been called
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Iter returns a fresh iterator positioned at the current publish count, so
// it only yields frames published after this call
func (b *Buffer) Iter() *Iterator {
	return &Iterator{buf: b, lastSeq: b.Count()}
}

// Iterator yields frames in publish order without re-delivering a frame
// already seen. Obtain one from Producer.Frames or Buffer.Iter; each call
// starts a fresh cursor at the current publish count. An iterator from
// Producer.Frames is additionally bound to that producer's lifetime.
type Iterator struct {
	buf     *Buffer
	lastSeq uint64
	done    <-chan struct{} // optional; ends iteration when closed
}

// Next blocks until a frame newer than the last one returned is published.
// It returns ErrStopped once capture stops or, for a producer-bound
// iterator, once the producer's read loop has exited.
func (it *Iterator) Next() (*Frame, error) {
	f, err := it.buf.waitNext(it.lastSeq, it.done)
	if err != nil {
		return nil, err
	}
	it.lastSeq = f.Seq
	return f, nil
}
