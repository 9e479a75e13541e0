package traversal

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type SackInitial func() interface{}

type SackSplit func(sack interface{}) interface{}

type SackMerge func(a, b interface{}) interface{}

type Reducer func(a, b interface{}) interface{}

var ErrSideEffectKey = errors.New("unknown side effect key")

// SideEffects is shared by every traverser of a traversal. It holds the sack
// functions and the named side effect values.
type SideEffects struct {
	SackInitial SackInitial
	SackSplit   SackSplit
	SackMerge   SackMerge

	mu       sync.Mutex
	values   map[string]interface{}
	reducers map[string]Reducer
}

func NewSideEffects() *SideEffects {
	return &SideEffects{
		values:   make(map[string]interface{}),
		reducers: make(map[string]Reducer),
	}
}

// WithSack sets the sack functions. split and merge may be nil: without
// split the sack is shared on fork, without merge traversers holding sacks
// cannot be merged.
func (s *SideEffects) WithSack(initial SackInitial, split SackSplit, merge SackMerge) *SideEffects {
	s.SackInitial = initial
	s.SackSplit = split
	s.SackMerge = merge
	return s
}

func (s *SideEffects) Register(key string, initial interface{}, reducer Reducer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = initial
	s.reducers[key] = reducer
}

func (s *SideEffects) Add(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reducer, ok := s.reducers[key]
	if !ok {
		return errors.Wrapf(ErrSideEffectKey, "%q", key)
	}
	if reducer == nil {
		s.values[key] = value
		return nil
	}
	s.values[key] = reducer(s.values[key], value)
	return nil
}

func (s *SideEffects) Get(key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, errors.Wrapf(ErrSideEffectKey, "%q", key)
	}
	return value, nil
}

func (s *SideEffects) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *SideEffects) initialSack() interface{} {
	if s == nil || s.SackInitial == nil {
		return nil
	}
	return s.SackInitial()
}

func (s *SideEffects) splitSack(sack interface{}) interface{} {
	if s == nil || s.SackSplit == nil || sack == nil {
		return sack
	}
	return s.SackSplit(sack)
}
