// Package buffer implements a fixed-capacity append/consume buffer with
// monotonic cursors. It never wraps: once capacity is spent the buffer must be
// Reset before it accepts more data.
//
// One goroutine may append while another consumes. Cursor updates are atomic;
// the producer publishes writePos only after the appended elements are stored,
// so a consumer that loads writePos sees every element before it.
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrOverflow reports an operation that would move a cursor outside
// 0 <= readPos <= writePos <= capacity.
var ErrOverflow = errors.New("buffer overflow")

type Bounded[T any] struct {
	data     []T
	readPos  atomic.Int64
	writePos atomic.Int64
}

func New[T any](capacity int) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Bounded[T]{data: make([]T, capacity)}
}

func (b *Bounded[T]) Cap() int { return len(b.data) }

// Positions returns the read and write cursors.
func (b *Bounded[T]) Positions() (readPos, writePos int) {
	return int(b.readPos.Load()), int(b.writePos.Load())
}

// Len returns the number of appended but unconsumed elements.
func (b *Bounded[T]) Len() int {
	r, w := b.Positions()
	return w - r
}

// Free returns how many elements can still be appended.
func (b *Bounded[T]) Free() int {
	return len(b.data) - int(b.writePos.Load())
}

// Append copies p after the write cursor. If p does not fit the buffer is left
// unchanged and ErrOverflow is returned.
func (b *Bounded[T]) Append(p []T) error {
	w := int(b.writePos.Load())
	if len(p) > len(b.data)-w {
		return fmt.Errorf("%w: append %d with %d of %d free", ErrOverflow, len(p), len(b.data)-w, len(b.data))
	}
	copy(b.data[w:], p)
	b.writePos.Store(int64(w + len(p)))
	return nil
}

// Unread returns the elements between the cursors. The slice aliases the
// buffer and is only valid until the next Reset.
func (b *Bounded[T]) Unread() []T {
	r, w := b.Positions()
	return b.data[r:w]
}

// Consume advances the read cursor by n.
func (b *Bounded[T]) Consume(n int) error {
	r, w := b.Positions()
	if n < 0 || n > w-r {
		return fmt.Errorf("%w: consume %d with %d unread", ErrOverflow, n, w-r)
	}
	b.readPos.Store(int64(r + n))
	return nil
}

// Drain copies up to len(dst) unread elements into dst, advances the read
// cursor and returns the count. It never allocates.
func (b *Bounded[T]) Drain(dst []T) int {
	r, w := b.Positions()
	n := copy(dst, b.data[r:w])
	b.readPos.Store(int64(r + n))
	return n
}

// Reset zeroes both cursors. The caller must ensure no consumer is running.
func (b *Bounded[T]) Reset() {
	b.readPos.Store(0)
	b.writePos.Store(0)
}

// Written returns every element appended since the last Reset, consumed or not.
func (b *Bounded[T]) Written() []T {
	return b.data[:b.writePos.Load()]
}
