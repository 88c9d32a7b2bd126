package pipeline

import "container/list"

// queue is the FIFO of unresolved handles bound to one connection (spec.md
// §4.C). Transmission order equals reply order, so a plain doubly-linked
// list gives push/pop-front/len in O(1) without needing anything fancier.
type queue struct {
	l *list.List
}

func newQueue() *queue {
	return &queue{l: list.New()}
}

func (q *queue) push(h *Handle) {
	q.l.PushBack(h)
}

// popFront removes and returns the oldest handle, or nil if the queue is
// empty. The engine always pops before assigning a reply, so a handle is
// dequeued exactly once.
func (q *queue) popFront() *Handle {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	return e.Value.(*Handle)
}

func (q *queue) len() int {
	return q.l.Len()
}

// clear empties the queue and returns every handle that was still in it, in
// FIFO order, so the caller (Engine.Abandon, used by the adapter's
// Reconnect/Disconnect) can fail them before they are lost.
func (q *queue) clear() []*Handle {
	out := make([]*Handle, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Handle))
	}
	q.l.Init()
	return out
}
