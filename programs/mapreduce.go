package programs

import (
	"sort"

	"github.com/pkg/errors"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/traversal"
)

const (
	MAP_REDUCE_PROPERTY   = "mapReduce.property"
	MAP_REDUCE_MEMORY_KEY = "mapReduce.memoryKey"
	MAP_REDUCE_LABEL      = "mapReduce.label"

	// TRAVERSERS is the default memory key of TraverserMapReduce.
	TRAVERSERS = "traversers"
	COUNT      = "count"
)

// PropertyMapReduce collects one vertex property into a map from vertex id
// to value. It only maps.
type PropertyMapReduce struct {
	Property string
	Key      string
}

func NewPropertyMapReduce(property string) *PropertyMapReduce {
	return &PropertyMapReduce{Property: property, Key: property}
}

func (j *PropertyMapReduce) DoStage(stage bagel.Stage) bool {
	return stage == bagel.MAP
}

func (j *PropertyMapReduce) Map(vertex *graph.Vertex, emitter bagel.Emitter) error {
	if value, ok := vertex.Property(j.Property); ok {
		emitter.Emit(vertex.Id, value)
	}
	return nil
}

func (j *PropertyMapReduce) Combine(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	return nil
}

func (j *PropertyMapReduce) Reduce(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	return nil
}

func (j *PropertyMapReduce) MemoryKey() string {
	return j.Key
}

func (j *PropertyMapReduce) AddResultToMemory(memory bagel.Memory, results []bagel.KeyValue) error {
	values := make(map[uint64]interface{}, len(results))
	for _, kv := range results {
		values[kv.Key.(uint64)] = kv.Value
	}
	return memory.Set(j.Key, values)
}

func (j *PropertyMapReduce) StoreState(config bagel.Configuration) {
	config[bagel.MAP_REDUCE] = PROPERTY_MAP_REDUCE
	config[MAP_REDUCE_PROPERTY] = j.Property
	config[MAP_REDUCE_MEMORY_KEY] = j.Key
}

func (j *PropertyMapReduce) LoadState(config bagel.Configuration) error {
	j.Property = config.GetString(MAP_REDUCE_PROPERTY, "")
	if j.Property == "" {
		return errors.Errorf("%s is required", MAP_REDUCE_PROPERTY)
	}
	j.Key = config.GetString(MAP_REDUCE_MEMORY_KEY, j.Property)
	return nil
}

// CountMapReduce counts the vertices carrying Label, or all of them. Counts
// are combined per partition before the reduce.
type CountMapReduce struct {
	Label string
	Key   string
}

func NewCountMapReduce(label string) *CountMapReduce {
	return &CountMapReduce{Label: label, Key: COUNT}
}

func (j *CountMapReduce) DoStage(bagel.Stage) bool {
	return true
}

func (j *CountMapReduce) Map(vertex *graph.Vertex, emitter bagel.Emitter) error {
	if j.Label == "" || vertex.Label == j.Label {
		emitter.Emit(COUNT, int64(1))
	}
	return nil
}

func (j *CountMapReduce) Combine(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	return j.Reduce(key, values, emitter)
}

func (j *CountMapReduce) Reduce(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	var sum int64
	for _, v := range values {
		sum += v.(int64)
	}
	emitter.Emit(key, sum)
	return nil
}

func (j *CountMapReduce) MemoryKey() string {
	return j.Key
}

func (j *CountMapReduce) AddResultToMemory(memory bagel.Memory, results []bagel.KeyValue) error {
	var count int64
	for _, kv := range results {
		count += kv.Value.(int64)
	}
	return memory.Set(j.Key, count)
}

func (j *CountMapReduce) StoreState(config bagel.Configuration) {
	config[bagel.MAP_REDUCE] = COUNT_MAP_REDUCE
	config[MAP_REDUCE_LABEL] = j.Label
	config[MAP_REDUCE_MEMORY_KEY] = j.Key
}

func (j *CountMapReduce) LoadState(config bagel.Configuration) error {
	j.Label = config.GetString(MAP_REDUCE_LABEL, "")
	j.Key = config.GetString(MAP_REDUCE_MEMORY_KEY, COUNT)
	return nil
}

// TraverserMapReduce gathers the halted traversers of a traversal program,
// merging equal traversers.
type TraverserMapReduce struct {
	Key string
}

func NewTraverserMapReduce() *TraverserMapReduce {
	return &TraverserMapReduce{Key: TRAVERSERS}
}

func (j *TraverserMapReduce) DoStage(bagel.Stage) bool {
	return true
}

func (j *TraverserMapReduce) Map(vertex *graph.Vertex, emitter bagel.Emitter) error {
	value, ok := vertex.Property(HALTED_TRAVERSERS)
	if !ok {
		return nil
	}
	for _, t := range value.([]*traversal.Traverser) {
		emitter.Emit(TRAVERSERS, t.Fork())
	}
	return nil
}

func (j *TraverserMapReduce) Combine(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	return j.Reduce(key, values, emitter)
}

func (j *TraverserMapReduce) Reduce(key interface{}, values []interface{}, emitter bagel.Emitter) error {
	set := traversal.NewTraverserSet()
	for _, v := range values {
		set.Add(v.(*traversal.Traverser))
	}
	for _, t := range set.Traversers() {
		emitter.Emit(key, t)
	}
	return nil
}

func (j *TraverserMapReduce) MemoryKey() string {
	return j.Key
}

// AddResultToMemory stores the traversers ordered by their printed form.
func (j *TraverserMapReduce) AddResultToMemory(memory bagel.Memory, results []bagel.KeyValue) error {
	traversers := make([]*traversal.Traverser, 0, len(results))
	for _, kv := range results {
		traversers = append(traversers, kv.Value.(*traversal.Traverser))
	}
	sort.SliceStable(traversers, func(a, b int) bool {
		return traversers[a].String() < traversers[b].String()
	})
	return memory.Set(j.Key, traversers)
}

func (j *TraverserMapReduce) StoreState(config bagel.Configuration) {
	config[bagel.MAP_REDUCE] = TRAVERSER_MAP_REDUCE
	config[MAP_REDUCE_MEMORY_KEY] = j.Key
}

func (j *TraverserMapReduce) LoadState(config bagel.Configuration) error {
	j.Key = config.GetString(MAP_REDUCE_MEMORY_KEY, TRAVERSERS)
	return nil
}
