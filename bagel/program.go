package bagel

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"graphcomputer/graph"
)

// Messenger carries messages between vertices. Messages sent in a superstep
// are received in the next one.
type Messenger interface {
	ReceiveMessages() []interface{}
	SendMessage(destination uint64, message interface{})
}

// VertexComputeKey is a vertex property written by a program. Transient keys
// are removed from the final graph.
type VertexComputeKey struct {
	Key         string
	IsTransient bool
}

// VertexProgram runs once per vertex per superstep. One instance is created
// per partition from the configuration written by StoreState.
type VertexProgram interface {
	Setup(memory Memory) error
	Execute(vertex *graph.Vertex, messenger Messenger, memory Memory) error
	// Terminate must give the same answer for the same memory.
	Terminate(memory Memory) (bool, error)
	VertexComputeKeys() []VertexComputeKey
	MemoryComputeKeys() []MemoryComputeKey
	StoreState(config Configuration)
	LoadState(config Configuration) error
}

// MessageCombiner is implemented by programs whose messages to the same
// vertex can be folded before delivery.
type MessageCombiner interface {
	CombineMessages(a, b interface{}) interface{}
}

// Preferences is implemented by programs that know what output they produce
// when the submission does not say.
type Preferences interface {
	PreferredResultGraph() ResultGraph
	PreferredPersist() Persist
}

var (
	programsMu sync.RWMutex
	programs   = make(map[string]func() VertexProgram)
)

// RegisterVertexProgram makes a program constructible from configuration
// under name. StoreState must write name to VERTEX_PROGRAM.
func RegisterVertexProgram(name string, factory func() VertexProgram) {
	programsMu.Lock()
	defer programsMu.Unlock()
	programs[name] = factory
}

func RegisteredVertexPrograms() []string {
	programsMu.RLock()
	defer programsMu.RUnlock()
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateVertexProgram rebuilds a program from its stored state.
func CreateVertexProgram(config Configuration) (VertexProgram, error) {
	name := config.GetString(VERTEX_PROGRAM, "")
	programsMu.RLock()
	factory, ok := programs[name]
	programsMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrInstantiation, "no vertex program registered as %q", name)
	}
	program := factory()
	if err := program.LoadState(config); err != nil {
		return nil, wrapKind(ErrInstantiation, err, "loading %s", name)
	}
	return program, nil
}
