package control

import "github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"

// queueItem is one pending command with its effective priority and an
// insertion sequence for stable tie-breaking.
type queueItem struct {
	cmd      model.Command
	priority int
	seq      int64
}

// cmdQueue is a min-heap ordered by (priority, seq). Implements
// container/heap.Interface.
type cmdQueue []*queueItem

func (q cmdQueue) Len() int { return len(q) }

func (q cmdQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q cmdQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *cmdQueue) Push(x interface{}) {
	*q = append(*q, x.(*queueItem))
}

func (q *cmdQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
