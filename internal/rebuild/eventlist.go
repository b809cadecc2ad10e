package rebuild

import (
	"time"

	"github.com/relogdev/relog/internal/model"
)

// eventList accumulates consecutive events into one pending transaction.
// The batching rules preserve atomicity of the legacy facts while keeping
// the reconstructed history readable: one transaction per author, patch set
// and tag, bounded in time.
type eventList struct {
	maxDelta  time.Duration // max gap between consecutive events
	maxWindow time.Duration // max span between first and last event

	events        []Event
	containsFinal bool
	containsSub   bool
}

func newEventList(maxDelta, maxWindow time.Duration) *eventList {
	return &eventList{maxDelta: maxDelta, maxWindow: maxWindow}
}

func (l *eventList) empty() bool { return len(l.events) == 0 }

func (l *eventList) first() *event { return l.events[0].meta() }
func (l *eventList) last() *event  { return l.events[len(l.events)-1].meta() }

// canAdd reports whether e may join the pending batch. Events arrive in
// sorted order, so a timestamp before the last member is an ordering bug
// and panics rather than silently producing a misordered history.
func (l *eventList) canAdd(e Event) bool {
	if l.empty() {
		return true
	}
	// The terminal event always occupies its own transaction.
	if e.Kind() == KindFinal || l.containsFinal {
		return false
	}
	m, last := e.meta(), l.last()
	if m.who != last.who || m.realWho != last.realWho ||
		!patchSetIDEqual(m.psID, last.psID) || m.tag != last.tag {
		return false
	}
	// A post-submit vote must land strictly after the submit transaction.
	if e.IsPostSubmitApproval() && l.containsSub {
		return false
	}
	invariant(!m.when.Before(last.when),
		"%s event at %v regresses behind batched event at %v", m.kind, m.when, last.when)
	if m.when.Sub(last.when) > l.maxDelta || m.when.Sub(l.first().when) > l.maxWindow {
		return false
	}
	if e.UniquePerUpdate() {
		for _, o := range l.events {
			if o.Kind() == e.Kind() {
				return false
			}
		}
	}
	return true
}

func (l *eventList) add(e Event) {
	l.events = append(l.events, e)
	if e.Kind() == KindFinal {
		l.containsFinal = true
	}
	if e.IsSubmit() {
		l.containsSub = true
	}
}

func (l *eventList) clear() {
	l.events = nil
	l.containsFinal = false
	l.containsSub = false
}

// The accessors below read the shared identity of the batch. All members
// agree on these fields; canAdd guarantees it.

func (l *eventList) author() model.AccountID     { return l.first().who }
func (l *eventList) realAuthor() model.AccountID { return l.first().realWho }
func (l *eventList) when() time.Time             { return l.first().when }

func (l *eventList) patchSetID() model.PatchSetID {
	id := l.first().psID
	invariant(id != nil, "flushing batch with unbound patch set")
	return *id
}

// tag returns the batch tag: the last member's, matching how the legacy
// system attributed tagged operations.
func (l *eventList) tag() string { return l.last().tag }
