package bagel

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

var ErrContextClosed = errors.New("execution context is closed")

// ExecutionContext is the process wide state shared by submissions: a lease
// count and the graphs persisted into it. Graphs written to the context keep
// their partitioning, so a later job reading them skips partitioning.
type ExecutionContext struct {
	id     string
	mu     sync.Mutex
	leases int
	closed bool
	graphs map[string]*graph.Collection
	memory map[string]map[string]interface{}
}

var (
	contextMu      sync.Mutex
	currentContext *ExecutionContext
)

func newExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		id:     uuid.New().String(),
		graphs: make(map[string]*graph.Collection),
		memory: make(map[string]map[string]interface{}),
	}
}

// AcquireContext leases the process wide context, creating it when there is
// none or when fresh is set. A replaced context closes once its last lease is
// released.
func AcquireContext(fresh bool) *ExecutionContext {
	contextMu.Lock()
	defer contextMu.Unlock()
	if fresh && currentContext != nil {
		old := currentContext
		currentContext = nil
		old.mu.Lock()
		if old.leases == 0 {
			old.close()
		}
		old.mu.Unlock()
	}
	if currentContext == nil {
		currentContext = newExecutionContext()
		log.Debugf("AcquireContext: created execution context %v", currentContext.id)
	}
	currentContext.mu.Lock()
	currentContext.leases++
	currentContext.mu.Unlock()
	return currentContext
}

// CurrentContext returns the live context without leasing it.
func CurrentContext() *ExecutionContext {
	contextMu.Lock()
	defer contextMu.Unlock()
	return currentContext
}

// CloseContext closes the process wide context regardless of leases.
func CloseContext() {
	contextMu.Lock()
	defer contextMu.Unlock()
	if currentContext == nil {
		return
	}
	currentContext.mu.Lock()
	currentContext.close()
	currentContext.mu.Unlock()
	currentContext = nil
}

// Release gives back a lease. The last lease closes the context unless it
// is to be kept for later submissions.
func (c *ExecutionContext) Release(keep bool) {
	contextMu.Lock()
	defer contextMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leases > 0 {
		c.leases--
	}
	if c.leases > 0 {
		return
	}
	if keep && currentContext == c {
		return
	}
	c.close()
	if currentContext == c {
		currentContext = nil
	}
}

func (c *ExecutionContext) close() {
	if c.closed {
		return
	}
	log.Debugf("ExecutionContext: closing %v with %d persisted graphs", c.id, len(c.graphs))
	c.closed = true
	c.graphs = nil
	c.memory = nil
}

func (c *ExecutionContext) Id() string {
	return c.id
}

func (c *ExecutionContext) Leases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leases
}

func (c *ExecutionContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *ExecutionContext) Locations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	locations := make([]string, 0, len(c.graphs))
	for l := range c.graphs {
		locations = append(locations, l)
	}
	sort.Strings(locations)
	return locations
}

func (c *ExecutionContext) ReadGraph(_ context.Context, location string) (*graph.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.WithStack(ErrContextClosed)
	}
	g, ok := c.graphs[location]
	if !ok {
		return nil, errors.Wrapf(graph.ErrNotFound, "no graph persisted at %q", location)
	}
	return g, nil
}

func (c *ExecutionContext) WriteGraph(_ context.Context, location string, g *graph.Collection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.WithStack(ErrContextClosed)
	}
	c.graphs[location] = g
	return nil
}

func (c *ExecutionContext) ReadMemory(_ context.Context, location string, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.WithStack(ErrContextClosed)
	}
	value, ok := c.memory[location][key]
	if !ok {
		return nil, errors.Wrapf(graph.ErrNotFound, "no memory %q persisted at %q", key, location)
	}
	return value, nil
}

func (c *ExecutionContext) WriteMemory(_ context.Context, location string, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.WithStack(ErrContextClosed)
	}
	if c.memory[location] == nil {
		c.memory[location] = make(map[string]interface{})
	}
	c.memory[location][key] = value
	return nil
}

func (c *ExecutionContext) Exists(_ context.Context, location string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.graphs[location]
	return ok, nil
}

func (c *ExecutionContext) Delete(_ context.Context, location string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, location)
	delete(c.memory, location)
	return nil
}
