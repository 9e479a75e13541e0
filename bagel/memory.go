package bagel

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrMemoryKey      = errors.New("memory key is not declared or has no value")
	ErrMemoryReadOnly = errors.New("memory is read only")
)

// MemoryComputeKey declares a memory key with its reduction operator.
// Transient keys only live while the program runs.
type MemoryComputeKey struct {
	Key         string
	Reducer     Operator
	IsTransient bool
}

func NewMemoryComputeKey(key string, reducer Operator, isTransient bool) MemoryComputeKey {
	return MemoryComputeKey{Key: key, Reducer: reducer, IsTransient: isTransient}
}

// Memory is the globally reduced key/value store of a computation. During a
// superstep it is read-the-last-barrier, write-for-the-next-barrier.
type Memory interface {
	Keys() []string
	Exists(key string) bool
	Get(key string) (interface{}, error)
	Set(key string, value interface{}) error
	Add(key string, value interface{}) error
	Iteration() int
	IsInitialIteration() bool
	Runtime() time.Duration
}

// MapMemory is the master memory owned by the coord. Setup and terminate
// write to it directly; workers write through a workerMemory that is
// reduced into it at the barrier.
type MapMemory struct {
	mu          sync.RWMutex
	computeKeys map[string]MemoryComputeKey
	values      map[string]interface{}
	iteration   int
	start       time.Time
}

func NewMapMemory(keys ...MemoryComputeKey) *MapMemory {
	m := &MapMemory{
		computeKeys: make(map[string]MemoryComputeKey),
		values:      make(map[string]interface{}),
		start:       time.Now(),
	}
	for _, k := range keys {
		m.computeKeys[k.Key] = k
	}
	return m
}

func (m *MapMemory) AddComputeKey(key MemoryComputeKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computeKeys[key.Key] = key
}

func (m *MapMemory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.values)
}

func (m *MapMemory) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

func (m *MapMemory) Get(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	return value, nil
}

func (m *MapMemory) Set(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.computeKeys[key]; !ok {
		return errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	m.values[key] = value
	return nil
}

func (m *MapMemory) Add(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	computeKey, ok := m.computeKeys[key]
	if !ok {
		return errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	if current, ok := m.values[key]; ok {
		m.values[key] = computeKey.Reducer(current, value)
	} else {
		m.values[key] = value
	}
	return nil
}

func (m *MapMemory) Iteration() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.iteration
}

func (m *MapMemory) IsInitialIteration() bool {
	return m.Iteration() == 0
}

func (m *MapMemory) Runtime() time.Duration {
	return time.Since(m.start)
}

func (m *MapMemory) incrIteration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iteration++
}

// workerView hands a worker the values published at the last barrier.
func (m *MapMemory) workerView() *workerMemory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	return &workerMemory{
		computeKeys: m.computeKeys,
		snapshot:    snapshot,
		iteration:   m.iteration,
		runtime:     time.Since(m.start),
		pending:     make(map[string]interface{}),
		overwritten: make(map[string]bool),
	}
}

// completeSubRound reduces the contributions of a superstep. A key set by
// any worker replaces the previous value, otherwise contributions fold into
// it.
func (m *MapMemory) completeSubRound(contributions []*workerMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, computeKey := range m.computeKeys {
		var (
			value    interface{}
			hasValue bool
			touched  bool
		)
		overwritten := false
		for _, c := range contributions {
			if c != nil && c.overwritten[key] {
				overwritten = true
			}
		}
		if !overwritten {
			value, hasValue = m.values[key]
		}
		for _, c := range contributions {
			if c == nil {
				continue
			}
			contribution, ok := c.pending[key]
			if !ok {
				continue
			}
			touched = true
			if hasValue {
				value = computeKey.Reducer(value, contribution)
			} else {
				value = contribution
				hasValue = true
			}
		}
		if touched {
			m.values[key] = value
		}
	}
}

func (m *MapMemory) state() (map[string]interface{}, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		values[k] = v
	}
	return values, m.iteration
}

func (m *MapMemory) restore(values map[string]interface{}, iteration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]interface{}, len(values))
	for k, v := range values {
		m.values[k] = v
	}
	m.iteration = iteration
}

// complete drops transient keys and freezes the memory.
func (m *MapMemory) complete() *ImmutableMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, computeKey := range m.computeKeys {
		if computeKey.IsTransient {
			delete(m.values, key)
		}
	}
	values := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		values[k] = v
	}
	return &ImmutableMemory{
		values:    values,
		iteration: m.iteration,
		runtime:   time.Since(m.start),
	}
}

type workerMemory struct {
	mu          sync.Mutex
	computeKeys map[string]MemoryComputeKey
	snapshot    map[string]interface{}
	iteration   int
	runtime     time.Duration
	pending     map[string]interface{}
	overwritten map[string]bool
}

func (w *workerMemory) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	visible := make(map[string]interface{}, len(w.snapshot)+len(w.overwritten))
	for key, value := range w.snapshot {
		visible[key] = value
	}
	for key := range w.overwritten {
		visible[key] = w.pending[key]
	}
	return sortedKeys(visible)
}

func (w *workerMemory) Exists(key string) bool {
	_, err := w.Get(key)
	return err == nil
}

// Get sees this worker's own Set immediately. Add contributions stay
// invisible until the barrier.
func (w *workerMemory) Get(key string) (interface{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.overwritten[key] {
		return w.pending[key], nil
	}
	value, ok := w.snapshot[key]
	if !ok {
		return nil, errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	return value, nil
}

func (w *workerMemory) Set(key string, value interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.computeKeys[key]; !ok {
		return errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	w.pending[key] = value
	w.overwritten[key] = true
	return nil
}

func (w *workerMemory) Add(key string, value interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	computeKey, ok := w.computeKeys[key]
	if !ok {
		return errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	if current, ok := w.pending[key]; ok {
		w.pending[key] = computeKey.Reducer(current, value)
	} else {
		w.pending[key] = value
	}
	return nil
}

func (w *workerMemory) Iteration() int {
	return w.iteration
}

func (w *workerMemory) IsInitialIteration() bool {
	return w.iteration == 0
}

func (w *workerMemory) Runtime() time.Duration {
	return w.runtime
}

// ImmutableMemory is the final memory handed out with a result.
type ImmutableMemory struct {
	values    map[string]interface{}
	iteration int
	runtime   time.Duration
}

func (m *ImmutableMemory) Keys() []string {
	return sortedKeys(m.values)
}

func (m *ImmutableMemory) Exists(key string) bool {
	_, ok := m.values[key]
	return ok
}

func (m *ImmutableMemory) Get(key string) (interface{}, error) {
	value, ok := m.values[key]
	if !ok {
		return nil, errors.Wrapf(ErrMemoryKey, "%q", key)
	}
	return value, nil
}

func (m *ImmutableMemory) Set(string, interface{}) error {
	return errors.WithStack(ErrMemoryReadOnly)
}

func (m *ImmutableMemory) Add(string, interface{}) error {
	return errors.WithStack(ErrMemoryReadOnly)
}

func (m *ImmutableMemory) Iteration() int {
	return m.iteration
}

func (m *ImmutableMemory) IsInitialIteration() bool {
	return m.iteration == 0
}

func (m *ImmutableMemory) Runtime() time.Duration {
	return m.runtime
}

func (m *ImmutableMemory) AsMap() map[string]interface{} {
	values := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		values[k] = v
	}
	return values
}

func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
