package vm

import (
	"sync"

	"github.com/apoch/fugue/internal/ir"
)

// message is one queued task message.
type message struct {
	sender       ir.TaskRef
	name         string
	payloadTypes []ir.VariableTypeID
	payload      []ir.RValue
}

// mailbox is an ordered message queue with selective receive: a receiver
// blocks until a message matching its predicate arrives, leaving
// non-matching messages queued. A single queue per task preserves
// per-sender send order.
type mailbox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []message
}

func newMailbox() *mailbox {
	mb := &mailbox{}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// send enqueues a message and wakes any waiting receiver.
func (mb *mailbox) send(msg message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()
	mb.cond.Broadcast()
}

// receive blocks until a queued message satisfies match, removes it and
// returns it.
func (mb *mailbox) receive(match func(message) bool) message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for {
		for i, msg := range mb.queue {
			if match(msg) {
				mb.queue = append(mb.queue[:i], mb.queue[i+1:]...)
				return msg
			}
		}
		mb.cond.Wait()
	}
}

// task is one running strand of execution: a unique handle, an ordered
// mailbox, and the handle of whoever spawned it.
type task struct {
	ref       ir.TaskRef
	name      string
	mailbox   *mailbox
	machine   *Machine
	caller    ir.TaskRef
	hasCaller bool

	// lastSender is the handle behind the most recently accepted message.
	lastSender    ir.TaskRef
	hasLastSender bool
}

func payloadMatches(want []ir.VariableTypeID, got []ir.VariableTypeID) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
