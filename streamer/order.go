package streamer

import "container/heap"

// sequenced pairs a response with the input sequence number of the
// request that produced it, so out-of-order completions can be
// re-sequenced before delivery.
type sequenced struct {
	seq  uint64
	resp result
}

// orderHeap is a min-heap over sequenced items, used by orderBuffer to
// hold completed-out-of-order results until they become deliverable.
type orderHeap []sequenced

func (h orderHeap) Len() int            { return len(h) }
func (h orderHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h orderHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *orderHeap) Push(x interface{}) { *h = append(*h, x.(sequenced)) }
func (h *orderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// orderBuffer re-sequences completions back into input order. Results
// arrive via Push in any order; Drain returns every result that is now
// contiguous with next, in order, advancing next past them.
type orderBuffer struct {
	heap orderHeap
	next uint64
}

func newOrderBuffer() *orderBuffer {
	b := &orderBuffer{}
	heap.Init(&b.heap)
	return b
}

func (b *orderBuffer) Push(seq uint64, r result) {
	heap.Push(&b.heap, sequenced{seq: seq, resp: r})
}

func (b *orderBuffer) Drain() []result {
	var out []result
	for b.heap.Len() > 0 && b.heap[0].seq == b.next {
		item := heap.Pop(&b.heap).(sequenced)
		out = append(out, item.resp)
		b.next++
	}
	return out
}
