package planq

// RoundRobin keeps an insertion-ordered set of distinct keys and serves them
// cyclically. It is not safe for concurrent use; the owning actor mutates it
// from its own message loop only.
type RoundRobin[K comparable] struct {
	keys   []K
	cursor int
}

func NewRoundRobin[K comparable]() *RoundRobin[K] {
	return &RoundRobin[K]{}
}

// Add appends the key to the tail of the rotation. Adding a key that is
// already tracked is a no-op.
func (rr *RoundRobin[K]) Add(key K) {
	for _, k := range rr.keys {
		if k == key {
			return
		}
	}

	rr.keys = append(rr.keys, key)
}

// Delete removes the key, keeping the relative order of the remaining keys.
// The cursor shifts with the remaining keys so the next call to Next still
// returns the key that was due.
func (rr *RoundRobin[K]) Delete(key K) {
	for i, k := range rr.keys {
		if k != key {
			continue
		}

		rr.keys = append(rr.keys[:i], rr.keys[i+1:]...)
		if rr.cursor > i {
			rr.cursor--
		}

		return
	}
}

// Next returns the key at the cursor and advances, wrapping past the end.
// Calling Next on an empty rotation is a caller bug: check Empty first.
func (rr *RoundRobin[K]) Next() K {
	if len(rr.keys) == 0 {
		panic("planq: Next called on an empty round robin")
	}

	if rr.cursor >= len(rr.keys) {
		rr.cursor = 0
	}

	key := rr.keys[rr.cursor]
	rr.cursor++

	return key
}

func (rr *RoundRobin[K]) Empty() bool {
	return len(rr.keys) == 0
}

func (rr *RoundRobin[K]) Len() int {
	return len(rr.keys)
}
