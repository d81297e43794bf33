package cache

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
)

var errStoreClosed = errors.New("idempotency store is closed")

// InMemoryIdempotencyStore remembers claimed keys in process memory. Expired
// keys are swept on the next write, oldest first, so there is no background
// goroutine. Only suitable when a single engine instance posts.
type InMemoryIdempotencyStore struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	queue  expiryQueue
	now    func() time.Time
	closed bool
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkProcessed claims key for ttl. It reports false while an earlier claim
// is still live.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errStoreClosed
	}

	now := s.now()
	s.sweep(now)
	if until, ok := s.expiry[key]; ok && now.Before(until) {
		return false, nil
	}
	until := now.Add(ttl)
	s.expiry[key] = until
	heap.Push(&s.queue, claim{key: key, until: until})
	return true, nil
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errStoreClosed
	}
	until, ok := s.expiry[key]
	return ok && s.now().Before(until), nil
}

// Close drops every claim. Further calls fail; closing again is a no-op.
func (s *InMemoryIdempotencyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.expiry = nil
	s.queue = nil
	return nil
}

// Size counts live claims
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.expiry)
}

// sweep pops claims whose deadline has passed. The map only loses a key
// when the popped deadline is the one it still holds.
func (s *InMemoryIdempotencyStore) sweep(now time.Time) {
	for len(s.queue) > 0 && !now.Before(s.queue[0].until) {
		c := heap.Pop(&s.queue).(claim)
		if until, ok := s.expiry[c.key]; ok && until.Equal(c.until) {
			delete(s.expiry, c.key)
		}
	}
}

type claim struct {
	key   string
	until time.Time
}

// expiryQueue is a min-heap on deadline
type expiryQueue []claim

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].until.Before(q[j].until) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(claim)) }
func (q *expiryQueue) Pop() any {
	old := *q
	c := old[len(old)-1]
	*q = old[:len(old)-1]
	return c
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
