// Package queue implements the bounded top-k max-heap the read path uses
// to merge live candidates across postings (spec section 4.6 step 4),
// adapted from the teacher's generic PriorityQueue to carry a VID instead
// of an arbitrary node id.
package queue

import "container/heap"

var _ heap.Interface = (*PriorityQueue)(nil)

// PriorityQueueItem is one scored candidate: the vector it identifies and
// its distance from the query, plus the index heap.Interface needs to
// keep Swap/Pop consistent.
type PriorityQueueItem struct {
	VID      uint32
	Distance float32
	Index    int
}

// PriorityQueue is a binary heap over PriorityQueueItem, ordered by
// Distance. Order=false gives a min-heap (ascending); Order=true gives a
// max-heap (descending), which is what the read path uses so Items[0] is
// always the current worst kept hit, cheap to evict once a better
// candidate shows up.
type PriorityQueue struct {
	Order bool
	Items []*PriorityQueueItem
}

func (pq *PriorityQueue) Len() int { return len(pq.Items) }

func (pq *PriorityQueue) Less(i, j int) bool {
	if pq.Order {
		return pq.Items[i].Distance > pq.Items[j].Distance
	}
	return pq.Items[i].Distance < pq.Items[j].Distance
}

func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
	pq.Items[i].Index, pq.Items[j].Index = i, j
}

func (pq *PriorityQueue) Push(x any) {
	item := x.(*PriorityQueueItem)
	item.Index = len(pq.Items)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the heap's current root, per heap.Interface
// (callers use container/heap.Pop, never this directly).
func (pq *PriorityQueue) Pop() any {
	old := pq.Items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.Items = old[:n-1]
	return item
}

// Top returns the root item without removing it.
func (pq *PriorityQueue) Top() *PriorityQueueItem {
	return pq.Items[0]
}
