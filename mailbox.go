package planq

import (
	"sync"
	"sync/atomic"
)

// Mailbox is an unbounded strict-FIFO queue feeding a single actor loop.
// Senders enqueue with Put and never wait on a slow receiver: a pump
// goroutine moves messages from the small inbound channel into an overflow
// buffer and hands them out one at a time through Out.
type Mailbox[T any] struct {
	in    chan T
	out   chan T
	done  chan struct{}
	count atomic.Int64

	closeOnce sync.Once
}

func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		in:   make(chan T, 1),
		out:  make(chan T, 1),
		done: make(chan struct{}),
	}

	go m.pump()

	return m
}

// Put enqueues msg, reporting false when the mailbox is already closed.
func (m *Mailbox[T]) Put(msg T) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case <-m.done:
		return false
	case m.in <- msg:
		return true
	}
}

// Out is the receive side. It yields messages in enqueue order and is closed
// once the mailbox is closed; anything still buffered at that point is
// dropped.
func (m *Mailbox[T]) Out() <-chan T {
	return m.out
}

// Close stops the pump. Safe to call more than once and concurrently with
// Put.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Len approximates the number of undelivered messages.
func (m *Mailbox[T]) Len() int {
	return int(m.count.Load()) + len(m.in) + len(m.out)
}

func (m *Mailbox[T]) pump() {
	var buf []T

	for {
		if len(buf) == 0 {
			select {
			case msg := <-m.in:
				buf = append(buf, msg)
				m.count.Add(1)
			case <-m.done:
				close(m.out)

				return
			}

			continue
		}

		select {
		case msg := <-m.in:
			buf = append(buf, msg)
			m.count.Add(1)
		case m.out <- buf[0]:
			var zero T
			buf[0] = zero
			buf = buf[1:]
			m.count.Add(-1)
		case <-m.done:
			close(m.out)

			return
		}
	}
}
