package stream

import (
	"sync"
	"sync/atomic"

	"github.com/sightline/forensic/job"
)

// Subscriber receives results from topics it is subscribed to.
// It uses credit-based flow control: the subscriber grants credits
// indicating how many results it can receive. The broker stops
// sending when credits reach zero.
type Subscriber struct {
	// id uniquely identifies this subscriber.
	id string

	// ch is the buffered channel results are sent on.
	ch chan *job.Result

	// credits tracks remaining flow-control credits.
	// When zero, the broker skips this subscriber.
	credits atomic.Int64

	// topics tracks which topics this subscriber is on.
	topics map[string]struct{}
	mu     sync.RWMutex

	// filter is an optional predicate. If set, only results
	// matching the filter are delivered.
	filter func(*job.Result) bool

	// closed prevents double-close of the channel.
	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *job.Result, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only result channel.
func (s *Subscriber) C() <-chan *job.Result { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// SetFilter sets an optional result filter predicate.
func (s *Subscriber) SetFilter(fn func(*job.Result) bool) {
	s.filter = fn
}

// addTopic records that this subscriber is on the given topic.
func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

// removeTopic removes a topic from the subscriber's tracked set.
func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver a result to the subscriber.
// Returns false if the result was dropped (no credits, filter
// mismatch, or full buffer). Final results always get through the
// credit check so a subscriber drained of credits still learns the
// job is done; a full buffer can still drop them.
func (s *Subscriber) send(res *job.Result) bool {
	if s.closed.Load() {
		return false
	}

	// Check filter.
	if s.filter != nil && !s.filter(res) {
		return false
	}

	// Check credits.
	if !res.Final {
		for {
			current := s.credits.Load()
			if current <= 0 {
				return false
			}
			if s.credits.CompareAndSwap(current, current-1) {
				break
			}
		}
	}

	// Non-blocking send.
	select {
	case s.ch <- res:
		return true
	default:
		// Buffer full, restore credit.
		if !res.Final {
			s.credits.Add(1)
		}
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
