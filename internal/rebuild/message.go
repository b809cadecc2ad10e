package rebuild

import (
	"regexp"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// The legacy system recorded topic and status transitions only as free-text
// change messages. These patterns recover the transitions; a message that
// matches none of them carries no structured fact, which is fine.
var (
	topicSetPattern     = regexp.MustCompile(`^Topic set to (.+)$`)
	topicChangedPattern = regexp.MustCompile(`^Topic changed from (.+) to (.+)$`)
	topicRemovedPattern = regexp.MustCompile(`^Topic (.+) removed$`)

	statusAbandonedPattern = regexp.MustCompile(`^Abandoned(\n.*)*$`)
	statusRestoredPattern  = regexp.MustCompile(`^Restored(\n.*)*$`)
)

// shadowChange is the change state implied by the interpreted message
// stream. Messages mutate it as they apply; the terminal event compares it
// against the authoritative row and emits only the divergence.
type shadowChange struct {
	topic  string
	status model.Status
}

func newShadowChange() *shadowChange {
	return &shadowChange{status: model.StatusNew}
}

// messageEvent records one free-text change message, plus any topic or
// status transition parsed out of its text.
type messageEvent struct {
	event
	msg    *model.Message
	shadow *shadowChange
}

func newMessageEvent(change *model.Change, m *model.Message, shadow *shadowChange) *messageEvent {
	return &messageEvent{
		event:  newEvent(KindMessage, m.PatchSet, m.Author, m.RealAuthor, m.WrittenOn, change, m.Tag),
		msg:    m,
		shadow: shadow,
	}
}

func (e *messageEvent) UniquePerUpdate() bool { return true }

func (e *messageEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	u.SetChangeMessage(e.msg.Message)
	e.applyTopic(u)
	e.applyStatus(u)
	return nil
}

func (e *messageEvent) applyTopic(u *notedb.NoteUpdate) {
	text := e.msg.Message
	if m := topicSetPattern.FindStringSubmatch(text); m != nil {
		u.SetTopic(m[1])
		e.shadow.topic = m[1]
		return
	}
	if m := topicChangedPattern.FindStringSubmatch(text); m != nil {
		u.SetTopic(m[2])
		e.shadow.topic = m[2]
		return
	}
	if topicRemovedPattern.MatchString(text) {
		u.SetTopic("")
		e.shadow.topic = ""
	}
}

func (e *messageEvent) applyStatus(u *notedb.NoteUpdate) {
	switch {
	case statusAbandonedPattern.MatchString(e.msg.Message):
		u.SetStatus(model.StatusAbandoned)
		e.shadow.status = model.StatusAbandoned
	case statusRestoredPattern.MatchString(e.msg.Message):
		u.SetStatus(model.StatusNew)
		e.shadow.status = model.StatusNew
	}
}
