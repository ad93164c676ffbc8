// Package list implements an owned doubly linked list.
//
// The original loader models every collection (memory ranges, devices,
// environment entries, command lists) as an intrusive list node embedded in
// the payload struct, so that a node can be unlinked without a separate
// allocation. That pattern has no good equivalent in idiomatic Go, where
// callers don't get to embed a list_t inside their own struct and expect
// pointer identity to double as list membership. This is re-architected as
// an owned generic container: List[T] holds the values directly, and
// iteration hands back references rather than requiring the caller to
// know about node structs.
package list

// List is a doubly linked list of T, front to back.
type List[T any] struct {
	front, back *node[T]
	size        int
}

type node[T any] struct {
	prev, next *node[T]
	value      T
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

func (l *List[T]) Len() int { return l.size }

func (l *List[T]) Empty() bool { return l.size == 0 }

// PushBack appends value to the end of the list.
func (l *List[T]) PushBack(value T) {
	n := &node[T]{value: value}
	if l.back == nil {
		l.front, l.back = n, n
	} else {
		n.prev = l.back
		l.back.next = n
		l.back = n
	}
	l.size++
}

// PushFront prepends value to the start of the list.
func (l *List[T]) PushFront(value T) {
	n := &node[T]{value: value}
	if l.front == nil {
		l.front, l.back = n, n
	} else {
		n.next = l.front
		l.front.prev = n
		l.front = n
	}
	l.size++
}

// Front returns the first value and true, or the zero value and false if
// the list is empty.
func (l *List[T]) Front() (T, bool) {
	var zero T
	if l.front == nil {
		return zero, false
	}
	return l.front.value, true
}

// PopFront removes and returns the first value.
func (l *List[T]) PopFront() (T, bool) {
	var zero T
	if l.front == nil {
		return zero, false
	}
	n := l.front
	l.front = n.next
	if l.front != nil {
		l.front.prev = nil
	} else {
		l.back = nil
	}
	l.size--
	return n.value, true
}

// Each calls fn for every value in order; fn may return false to stop
// early. Each never mutates the list, so it is safe to call RemoveWhere
// from a caller that has already collected what it needs.
func (l *List[T]) Each(fn func(T) bool) {
	for n := l.front; n != nil; n = n.next {
		if !fn(n.value) {
			return
		}
	}
}

// ToSlice copies the list into a new slice, front to back.
func (l *List[T]) ToSlice() []T {
	out := make([]T, 0, l.size)
	l.Each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// RemoveWhere removes every value for which match returns true, and
// returns how many were removed. It re-links around removed nodes in a
// single pass, the owned-container equivalent of intrusive list_remove.
func (l *List[T]) RemoveWhere(match func(T) bool) int {
	removed := 0
	n := l.front
	for n != nil {
		next := n.next
		if match(n.value) {
			if n.prev != nil {
				n.prev.next = n.next
			} else {
				l.front = n.next
			}
			if n.next != nil {
				n.next.prev = n.prev
			} else {
				l.back = n.prev
			}
			l.size--
			removed++
		}
		n = next
	}
	return removed
}

// InsertSorted inserts value at the position that keeps the list ordered
// by less (value, existing), e.g. a range list kept sorted by start
// address.
func (l *List[T]) InsertSorted(value T, less func(a, b T) bool) {
	n := &node[T]{value: value}
	for cur := l.front; cur != nil; cur = cur.next {
		if less(value, cur.value) {
			n.prev = cur.prev
			n.next = cur
			if cur.prev != nil {
				cur.prev.next = n
			} else {
				l.front = n
			}
			cur.prev = n
			l.size++
			return
		}
	}
	// value belongs at the end (or list is empty).
	if l.back == nil {
		l.front, l.back = n, n
	} else {
		n.prev = l.back
		l.back.next = n
		l.back = n
	}
	l.size++
}
