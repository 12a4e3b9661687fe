package realtime

import (
	"sync"
	"time"
)

// OutboundQueueEntry is an envelope waiting for a connection.
type OutboundQueueEntry struct {
	Envelope   Envelope
	EnqueuedAt time.Time
}

// outboundQueue buffers envelopes created while disconnected and hands them back strictly FIFO.
// Mutation happens on the event loop; the lock only makes Len safe for outside readers.
type outboundQueue struct {
	mu      sync.Mutex
	entries []OutboundQueueEntry
	max     int
	policy  QueueDropPolicy
}

func newOutboundQueue(max int, policy QueueDropPolicy) *outboundQueue {
	return &outboundQueue{max: max, policy: policy}
}

// Enqueue appends an entry. When the queue is bounded and full, the drop policy picks the
// victim, which is returned so the caller can log it.
func (q *outboundQueue) Enqueue(env Envelope, now time.Time) (dropped *OutboundQueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := OutboundQueueEntry{Envelope: env, EnqueuedAt: now}

	if q.max > 0 && len(q.entries) >= q.max {
		if q.policy == DropNewest {
			return &entry
		}
		oldest := q.entries[0]
		q.entries = append(q.entries[1:], entry)
		return &oldest
	}

	q.entries = append(q.entries, entry)
	return nil
}

// Drain removes and returns every entry in enqueue order.
func (q *outboundQueue) Drain() []OutboundQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil
	return entries
}

// Requeue puts entries back in front of anything enqueued since they were drained, keeping
// their original relative order.
func (q *outboundQueue) Requeue(entries []OutboundQueueEntry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]OutboundQueueEntry, 0, len(entries)+len(q.entries))
	merged = append(merged, entries...)
	merged = append(merged, q.entries...)
	q.entries = merged
}

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

func (q *outboundQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	return n
}
