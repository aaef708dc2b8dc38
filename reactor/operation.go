package reactor

import (
	"github.com/pawelgaczynski/giouring"
)

// Operation is an in-flight reactor operation. HandleCompletion is invoked on
// the reactor's owner thread when the kernel reports completion; res carries
// the raw kernel result (negative errno on failure) and flags the raw CQE
// flags. Operations must stay alive from submission until their completion
// callback returns.
type Operation interface {
	HandleCompletion(res int32, flags uint32)
}

// PreparedOperation is an Operation that populates a kernel submission entry.
// Operations that do not implement it act as pure triggers: they never enter
// the ring and fire on the next loop iteration instead.
type PreparedOperation interface {
	Operation
	Prepare(sqe *giouring.SubmissionQueueEntry)
}

// TriggerFunc adapts a plain function to a trigger-only Operation.
type TriggerFunc func()

func (f TriggerFunc) HandleCompletion(res int32, flags uint32) {
	f()
}

// Operation handles are packed into the CQE user-data word: the table index
// shifted left by one, with the low bit tagging reactor-internal plumbing
// operations. User data zero is reserved.
const opKindInternal = 1

type opTable struct {
	m    map[uint64]Operation
	next uint64
}

func (t *opTable) init() {
	t.m = make(map[uint64]Operation)
}

// add registers op and returns its user-data word.
func (t *opTable) add(op Operation, internal bool) uint64 {
	t.next++
	key := t.next << 1
	if internal {
		key |= opKindInternal
	}
	t.m[key] = op
	return key
}

// get looks up the operation for a completion. Unless the kernel flagged more
// completions to come, the entry is removed.
func (t *opTable) get(userData uint64, more bool) Operation {
	op := t.m[userData]
	if !more {
		delete(t.m, userData)
	}
	return op
}

func (t *opTable) count() int {
	return len(t.m)
}

func isInternal(userData uint64) bool {
	return userData&opKindInternal != 0
}
