package rebuild

import (
	"container/heap"
)

// sortEvents produces a total order that respects every dependency edge
// while staying as close to natural chronological order as possible.
//
// A min-heap ordered by compareNatural is seeded with all events. Popping
// the minimum emits it unless it still has unemitted dependencies, in which
// case it is set aside and re-pushed only when a dependency emits. The
// result is natural order with blocked events deferred exactly as long as
// the edges require.
//
// Every dependency must itself be a member of events, and the edges must be
// acyclic; violations are construction bugs and panic.
func sortEvents(events []Event) []Event {
	h := &eventHeap{}
	members := make(map[Event]bool, len(events))
	for i, e := range events {
		e.meta().sortSeq = i
		members[e] = true
	}

	// blocking[e] holds e's unemitted dependencies; waiters is the reverse
	// index used to unblock when a dependency emits.
	blocking := make(map[Event]map[Event]bool)
	waiters := make(map[Event][]Event)
	for _, e := range events {
		for _, dep := range e.meta().deps {
			invariant(members[dep], "%s event depends on %s event outside the sort input",
				e.Kind(), dep.Kind())
			if dep == e {
				continue
			}
			if blocking[e] == nil {
				blocking[e] = make(map[Event]bool)
			}
			if !blocking[e][dep] {
				blocking[e][dep] = true
				waiters[dep] = append(waiters[dep], e)
			}
		}
	}

	for _, e := range events {
		heap.Push(h, e)
	}

	emitted := make(map[Event]bool, len(events))
	out := make([]Event, 0, len(events))
	for h.Len() > 0 {
		e := heap.Pop(h).(Event)
		if emitted[e] {
			continue
		}
		if len(blocking[e]) > 0 {
			// Still blocked; a dependency's emission re-pushes it.
			continue
		}
		emitted[e] = true
		out = append(out, e)
		for _, w := range waiters[e] {
			delete(blocking[w], e)
			heap.Push(h, w)
		}
	}

	invariant(len(out) == len(events),
		"event dependency cycle: emitted %d of %d events", len(out), len(events))
	return out
}

// eventHeap is a min-heap over compareNatural, with input position as the
// final tie-break so the sort is deterministic and stable.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if c := compareNatural(h[i], h[j]); c != 0 {
		return c < 0
	}
	return h[i].meta().sortSeq < h[j].meta().sortSeq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
