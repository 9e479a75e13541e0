package bagel

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"graphcomputer/graph"
)

type Stage int

const (
	MAP Stage = iota
	COMBINE
	REDUCE
)

func (s Stage) String() string {
	switch s {
	case MAP:
		return "map"
	case COMBINE:
		return "combine"
	default:
		return "reduce"
	}
}

type KeyValue struct {
	Key   interface{}
	Value interface{}
}

type Emitter interface {
	Emit(key interface{}, value interface{})
}

// MapReduce aggregates the computed graph into a memory value. Combine and
// reduce only run when DoStage says so.
type MapReduce interface {
	DoStage(stage Stage) bool
	Map(vertex *graph.Vertex, emitter Emitter) error
	Combine(key interface{}, values []interface{}, emitter Emitter) error
	Reduce(key interface{}, values []interface{}, emitter Emitter) error
	MemoryKey() string
	AddResultToMemory(memory Memory, results []KeyValue) error
	StoreState(config Configuration)
	LoadState(config Configuration) error
}

// EdgeReader is implemented by jobs that read adjacency in Map. Edges are
// dropped before the map stage otherwise.
type EdgeReader interface {
	ReadsEdges() bool
}

var (
	mapReducesMu sync.RWMutex
	mapReduces   = make(map[string]func() MapReduce)
)

// RegisterMapReduce makes a job constructible from configuration under
// name. StoreState must write name to MAP_REDUCE.
func RegisterMapReduce(name string, factory func() MapReduce) {
	mapReducesMu.Lock()
	defer mapReducesMu.Unlock()
	mapReduces[name] = factory
}

func RegisteredMapReduces() []string {
	mapReducesMu.RLock()
	defer mapReducesMu.RUnlock()
	names := make([]string, 0, len(mapReduces))
	for name := range mapReduces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func CreateMapReduce(config Configuration) (MapReduce, error) {
	name := config.GetString(MAP_REDUCE, "")
	mapReducesMu.RLock()
	factory, ok := mapReduces[name]
	mapReducesMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrInstantiation, "no map reduce registered as %q", name)
	}
	job := factory()
	if err := job.LoadState(config); err != nil {
		return nil, wrapKind(ErrInstantiation, err, "loading %s", name)
	}
	return job, nil
}

type listEmitter struct {
	values []KeyValue
}

func (e *listEmitter) Emit(key interface{}, value interface{}) {
	e.values = append(e.values, KeyValue{Key: key, Value: value})
}

// group collects values per key, keeping keys in first seen order. The
// groups are indexed by groupKeyOf.
func group(kvs []KeyValue) ([]interface{}, map[interface{}][]interface{}) {
	var keys []interface{}
	groups := make(map[interface{}][]interface{})
	for _, kv := range kvs {
		k := groupKeyOf(kv.Key)
		if _, ok := groups[k]; !ok {
			keys = append(keys, kv.Key)
		}
		groups[k] = append(groups[k], kv.Value)
	}
	return keys, groups
}

// groupKeyOf maps non comparable keys to their printed form.
func groupKeyOf(key interface{}) interface{} {
	if key != nil && !reflect.TypeOf(key).Comparable() {
		return fmt.Sprintf("%#v", key)
	}
	return key
}

// executeMap maps every partition in parallel, each with its own job
// instance rebuilt from config.
func executeMap(ctx context.Context, g *graph.Collection, config Configuration) ([][]KeyValue, error) {
	outputs := make([][]KeyValue, g.NumPartitions())
	eg, ctx := errgroup.WithContext(ctx)
	for idx, partition := range g.Partitions {
		idx, partition := idx, partition
		eg.Go(func() error {
			job, err := CreateMapReduce(config)
			if err != nil {
				return err
			}
			emitter := &listEmitter{}
			for _, v := range partition {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := job.Map(v, emitter); err != nil {
					return errors.Wrapf(err, "map of vertex %d", v.Id)
				}
			}
			outputs[idx] = emitter.values
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// executeCombine combines the map output of each partition locally.
func executeCombine(ctx context.Context, mapped [][]KeyValue, config Configuration) ([][]KeyValue, error) {
	outputs := make([][]KeyValue, len(mapped))
	eg, _ := errgroup.WithContext(ctx)
	for idx, kvs := range mapped {
		idx, kvs := idx, kvs
		eg.Go(func() error {
			job, err := CreateMapReduce(config)
			if err != nil {
				return err
			}
			emitter := &listEmitter{}
			keys, groups := group(kvs)
			for _, key := range keys {
				if err := job.Combine(key, groups[groupKeyOf(key)], emitter); err != nil {
					return errors.Wrapf(err, "combine of key %v", key)
				}
			}
			outputs[idx] = emitter.values
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func executeReduce(kvs []KeyValue, job MapReduce) ([]KeyValue, error) {
	emitter := &listEmitter{}
	keys, groups := group(kvs)
	for _, key := range keys {
		if err := job.Reduce(key, groups[groupKeyOf(key)], emitter); err != nil {
			return nil, errors.Wrapf(err, "reduce of key %v", key)
		}
	}
	return emitter.values, nil
}

// runMapReduce runs one job over g and stores its result in memory.
func runMapReduce(ctx context.Context, g *graph.Collection, job MapReduce, memory *MapMemory) error {
	config := Configuration{}
	job.StoreState(config)
	name := config.GetString(MAP_REDUCE, "")

	partitioned, err := executeMap(ctx, g, config)
	if err != nil {
		return err
	}
	if job.DoStage(COMBINE) {
		partitioned, err = executeCombine(ctx, partitioned, config)
		if err != nil {
			return err
		}
	}
	var results []KeyValue
	for _, kvs := range partitioned {
		results = append(results, kvs...)
	}
	if job.DoStage(REDUCE) {
		results, err = executeReduce(results, job)
		if err != nil {
			return err
		}
	}
	log.Debugf("runMapReduce: %s produced %d results", name, len(results))

	memory.AddComputeKey(NewMemoryComputeKey(job.MemoryKey(), Assign, false))
	return job.AddResultToMemory(memory, results)
}
