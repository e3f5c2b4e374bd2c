package looper

import (
	"time"

	"github.com/KirkDiggler/localmsg/internal/message"
)

// entry is either a message or a flush barrier
type entry struct {
	msg     *message.Message
	barrier chan struct{}
	when    time.Time
	seq     uint64
}

// entryQueue is a min-heap on (when, seq) for container/heap
type entryQueue []*entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}

func (q entryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *entryQueue) Push(x any) {
	*q = append(*q, x.(*entry))
}

func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
