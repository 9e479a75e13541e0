package traversal

import (
	"sync"
)

// TraverserSet is a bag of traversers that merges equal traversers on
// insert. Traversers whose sacks cannot be merged are kept apart.
type TraverserSet struct {
	mu      sync.Mutex
	items   []*Traverser
	buckets map[uint64][]int
}

func NewTraverserSet(traversers ...*Traverser) *TraverserSet {
	set := &TraverserSet{buckets: make(map[uint64][]int)}
	for _, t := range traversers {
		set.Add(t)
	}
	return set
}

func (s *TraverserSet) Add(t *Traverser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets == nil {
		s.buckets = make(map[uint64][]int)
	}
	hash := t.Hash()
	for _, idx := range s.buckets[hash] {
		existing := s.items[idx]
		if existing.Mergeable(t) {
			if err := existing.Merge(t); err == nil {
				return
			}
		}
	}
	s.buckets[hash] = append(s.buckets[hash], len(s.items))
	s.items = append(s.items, t)
}

func (s *TraverserSet) AddAll(traversers []*Traverser) {
	for _, t := range traversers {
		s.Add(t)
	}
}

// Len is the number of distinct traversers, not the total bulk.
func (s *TraverserSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *TraverserSet) Bulk() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bulk int64
	for _, t := range s.items {
		bulk += t.Bulk()
	}
	return bulk
}

// Traversers returns the traversers in insertion order.
func (s *TraverserSet) Traversers() []*Traverser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Traverser(nil), s.items...)
}

// Values expands the set into values, each repeated bulk times.
func (s *TraverserSet) Values() []interface{} {
	var values []interface{}
	for _, t := range s.Traversers() {
		for i := int64(0); i < t.Bulk(); i++ {
			values = append(values, t.Get())
		}
	}
	return values
}
