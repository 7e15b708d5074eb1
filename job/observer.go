package job

import (
	"container/heap"
	"context"
	"sort"
	"sync"
)

// Observer receives every result a running job produces. Concrete
// variants are selected by the caller: bounded-priority retention for
// "best results" introspection, or direct forwarding to a live channel.
type Observer interface {
	OnUpdate(r *Result)
}

// ── Priority retention ──────────────────────────────

// PriorityObserver retains the top-N results by score in a fixed-size
// binary min-heap. The lowest-scoring retained result is evicted when a
// better one arrives.
type PriorityObserver struct {
	mu   sync.Mutex
	max  int
	heap scoreHeap
}

// NewPriorityObserver creates a PriorityObserver retaining up to max
// results.
func NewPriorityObserver(max int) *PriorityObserver {
	return &PriorityObserver{max: max}
}

// OnUpdate implements Observer. Only detection results compete for
// retention slots.
func (o *PriorityObserver) OnUpdate(r *Result) {
	if r.Meta.Kind != KindDetection {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.heap.Len() < o.max {
		heap.Push(&o.heap, r)
		return
	}
	if o.heap.Len() > 0 && r.Meta.Score > o.heap[0].Meta.Score {
		o.heap[0] = r
		heap.Fix(&o.heap, 0)
	}
}

// Results returns the retained results, best first.
func (o *PriorityObserver) Results() []*Result {
	o.mu.Lock()
	out := make([]*Result, len(o.heap))
	copy(out, o.heap)
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta.Score > out[j].Meta.Score
	})
	return out
}

// Clear drops all retained results.
func (o *PriorityObserver) Clear() {
	o.mu.Lock()
	o.heap = o.heap[:0]
	o.mu.Unlock()
}

type scoreHeap []*Result

func (h scoreHeap) Len() int            { return len(h) }
func (h scoreHeap) Less(i, j int) bool  { return h[i].Meta.Score < h[j].Meta.Score }
func (h scoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)         { *h = append(*h, x.(*Result)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ── Channel forwarding ──────────────────────────────

// ChannelObserver forwards every result into a bounded channel. Sends
// block until there is room or the context is cancelled, so a producer
// polling its cancellation token at every send cannot outrun a slow
// consumer.
type ChannelObserver struct {
	ctx context.Context
	ch  chan *Result
}

// NewChannelObserver creates a ChannelObserver with the given buffer.
func NewChannelObserver(ctx context.Context, buffer int) *ChannelObserver {
	return &ChannelObserver{ctx: ctx, ch: make(chan *Result, buffer)}
}

// OnUpdate implements Observer.
func (o *ChannelObserver) OnUpdate(r *Result) {
	select {
	case o.ch <- r:
	case <-o.ctx.Done():
	}
}

// C returns the read side of the channel.
func (o *ChannelObserver) C() <-chan *Result { return o.ch }

// Close closes the channel. Call only after the producer is done.
func (o *ChannelObserver) Close() { close(o.ch) }
