package bagel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

// GraphComputer collects the program, the MapReduce jobs and the options of
// one submission. It can be submitted once.
type GraphComputer struct {
	mu         sync.Mutex
	submitted  bool
	input      *graph.Collection
	storage    Storage
	program    VertexProgram
	mapReduces []MapReduce
	filter     graph.GraphFilter
	config     Configuration
}

// NewGraphComputer returns a computer over input. A nil input is read from
// the storage at INPUT_LOCATION.
func NewGraphComputer(input *graph.Collection) *GraphComputer {
	return &GraphComputer{input: input, config: make(Configuration)}
}

// FromQuery builds a computer from a serialised submission, rebuilding the
// program and the jobs from their stored state.
func FromQuery(q Query, input *graph.Collection, storage Storage) (*GraphComputer, error) {
	gc := NewGraphComputer(input).Storage(storage)
	for _, key := range q.Config.Keys() {
		gc.Configure(key, q.Config[key])
	}
	if q.Config.GetString(VERTEX_PROGRAM, "") != "" {
		program, err := CreateVertexProgram(q.Config)
		if err != nil {
			return nil, err
		}
		gc.Program(program)
	}
	for _, jobConfig := range q.MapReduces {
		job, err := CreateMapReduce(jobConfig)
		if err != nil {
			return nil, err
		}
		gc.MapReduce(job)
	}
	return gc, nil
}

func (gc *GraphComputer) Program(program VertexProgram) *GraphComputer {
	gc.program = program
	return gc
}

func (gc *GraphComputer) MapReduce(job MapReduce) *GraphComputer {
	gc.mapReduces = append(gc.mapReduces, job)
	return gc
}

func (gc *GraphComputer) Workers(workers int) *GraphComputer {
	return gc.Configure(WORKERS, workers)
}

func (gc *GraphComputer) Persist(persist Persist) *GraphComputer {
	return gc.Configure(PERSIST, string(persist))
}

func (gc *GraphComputer) ResultGraph(resultGraph ResultGraph) *GraphComputer {
	return gc.Configure(RESULT_GRAPH, string(resultGraph))
}

func (gc *GraphComputer) Vertices(filter graph.VertexFilter) *GraphComputer {
	gc.filter.Vertices = filter
	return gc
}

func (gc *GraphComputer) Edges(filter graph.EdgeFilter) *GraphComputer {
	gc.filter.Edges = filter
	return gc
}

// Storage sets the source and sink of INPUT_LOCATION and OUTPUT_LOCATION.
// The execution context is used when none is set.
func (gc *GraphComputer) Storage(storage Storage) *GraphComputer {
	gc.storage = storage
	return gc
}

func (gc *GraphComputer) Configure(key string, value interface{}) *GraphComputer {
	gc.config[key] = value
	return gc
}

// submission is a validated snapshot of the computer's options.
type submission struct {
	jobId          string
	workers        int
	persist        Persist
	resultGraph    ResultGraph
	level          graph.StorageLevel
	codec          graph.Codec
	filter         graph.GraphFilter
	persistContext bool
	freshContext   bool
	inputLocation  string
	outputLocation string
	timeout        time.Duration
	coord          CoordConfig
}

func (gc *GraphComputer) validate() (submission, error) {
	config := gc.config
	s := submission{
		jobId:          uuid.New().String(),
		persistContext: config.GetBool(PERSIST_CONTEXT, false),
		freshContext:   config.GetBool(FRESH_CONTEXT, false),
		inputLocation:  config.GetString(INPUT_LOCATION, ""),
		outputLocation: config.GetString(OUTPUT_LOCATION, ""),
		timeout:        config.GetDuration(TIMEOUT, 0),
		filter:         gc.filter,
	}

	if gc.program == nil && len(gc.mapReduces) == 0 {
		return s, errors.Wrap(ErrConfiguration, "no vertex program and no map reduce jobs")
	}
	if gc.input == nil && s.inputLocation == "" {
		return s, errors.Wrap(ErrConfiguration, "no input graph and no input location")
	}

	s.workers = config.GetInt(WORKERS, 1)
	if s.workers < 1 {
		return s, errors.Wrapf(ErrConfiguration, "workers must be at least 1, got %d", s.workers)
	}

	defaultResult, defaultPersist := ORIGINAL, NOTHING
	if gc.program != nil {
		defaultResult, defaultPersist = NEW, VERTEX_PROPERTIES
		if preferences, ok := gc.program.(Preferences); ok {
			defaultResult, defaultPersist = preferences.PreferredResultGraph(), preferences.PreferredPersist()
		}
	}
	var err error
	if s.persist, err = ParsePersist(config.GetString(PERSIST, string(defaultPersist))); err != nil {
		return s, err
	}
	if s.resultGraph, err = ParseResultGraph(config.GetString(RESULT_GRAPH, string(defaultResult))); err != nil {
		return s, err
	}
	if s.resultGraph == ORIGINAL && s.persist != NOTHING {
		return s, errors.Wrapf(
			ErrConfiguration, "result graph %s can not be combined with persist %s",
			s.resultGraph, s.persist,
		)
	}

	if s.level, err = graph.ParseStorageLevel(config.GetString(STORAGE_LEVEL, "")); err != nil {
		return s, errors.Wrap(ErrConfiguration, err.Error())
	}
	if s.codec, err = graph.CodecByName(config.GetString(SERIALIZER, "")); err != nil {
		return s, errors.Wrap(ErrConfiguration, err.Error())
	}

	s.filter.VertexLabels = append(s.filter.VertexLabels, config.GetStrings(FILTER_VERTEX_LABELS)...)
	s.filter.EdgeLabels = append(s.filter.EdgeLabels, config.GetStrings(FILTER_EDGE_LABELS)...)

	s.coord = CoordConfig{
		JobId:                   s.jobId,
		StepsBetweenCheckpoints: config.GetUint64(STEPS_BETWEEN_CHECKPOINTS, 0),
		CheckpointDir:           config.GetString(CHECKPOINT_DIR, ""),
		MaxRestarts:             config.GetInt(MAX_RESTARTS, 0),
	}
	if s.coord.MaxRestarts > 0 && s.coord.StepsBetweenCheckpoints == 0 {
		return s, errors.Wrap(ErrConfiguration, "restarts need checkpoints")
	}
	return s, nil
}

// Submit validates the submission and starts it in the background.
// Configuration errors are returned here; everything later resolves the
// future.
func (gc *GraphComputer) Submit(ctx context.Context) (*Future, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.submitted {
		return nil, errors.WithStack(ErrAlreadyStarted)
	}
	s, err := gc.validate()
	if err != nil {
		return nil, err
	}
	gc.submitted = true

	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	future := newFuture(cancel)
	go func() {
		defer cancel()
		result, err := gc.run(ctx, s)
		future.resolve(result, err)
	}()
	return future, nil
}

// Run submits and waits for the result.
func (gc *GraphComputer) Run(ctx context.Context) (*ComputerResult, error) {
	future, err := gc.Submit(ctx)
	if err != nil {
		return nil, err
	}
	return future.Get(ctx)
}

func (gc *GraphComputer) run(ctx context.Context, s submission) (result *ComputerResult, err error) {
	start := time.Now()
	logger := log.WithField("job", s.jobId)
	execCtx := AcquireContext(s.freshContext)
	storage := gc.storage
	if storage == nil {
		storage = execCtx
	}

	var persisted []*graph.Collection
	defer func() {
		for _, c := range persisted {
			c.Unpersist()
		}
		execCtx.Release(s.persistContext)
		if err != nil {
			logger.Warnf("run: job failed after %v: %v", time.Since(start), err)
		}
	}()

	// 1. load and partition
	input := gc.input
	if input == nil {
		if input, err = storage.ReadGraph(ctx, s.inputLocation); err != nil {
			return nil, wrapKind(ErrIO, err, "reading %q", s.inputLocation)
		}
	}
	working := input
	filtered := !s.filter.IsEmpty()
	if filtered {
		working = working.Filter(s.filter)
	}
	if working.Partitioner == nil {
		working = working.PartitionBy(graph.HashPartitioner{Partitions: s.workers})
	}
	if n := working.NumPartitions(); n > s.workers {
		working = working.Coalesce(s.workers)
	} else if n < s.workers {
		working = working.Repartition(s.workers)
	}
	if s.level == graph.NONE && !filtered {
		working = working.Clone()
	}
	if working, err = working.Persist(s.level, s.codec); err != nil {
		return nil, wrapKind(ErrIO, err, "persisting input")
	}
	persisted = append(persisted, working)
	logger.Debugf(
		"run: loaded %d vertices into %d partitions",
		working.Count(), working.NumPartitions(),
	)

	if s.outputLocation != "" {
		if exists, existsErr := storage.Exists(ctx, s.outputLocation); existsErr != nil {
			return nil, wrapKind(ErrIO, existsErr, "checking %q", s.outputLocation)
		} else if exists {
			if err = storage.Delete(ctx, s.outputLocation); err != nil {
				return nil, wrapKind(ErrIO, err, "deleting %q", s.outputLocation)
			}
		}
	}

	// 2. superstep loop
	memory := NewMapMemory()
	computed := working
	finalGraph := working
	if gc.program != nil {
		for _, key := range gc.program.MemoryComputeKeys() {
			memory.AddComputeKey(key)
		}
		if err = gc.program.Setup(memory); err != nil {
			return nil, errors.Wrap(err, "setup")
		}
		original := propertyKeys(working)
		coord, coordErr := NewCoord(s.coord, working, gc.program, memory)
		if coordErr != nil {
			return nil, coordErr
		}
		if err = coord.Compute(ctx); err != nil {
			return nil, err
		}

		// 3. finalize
		computed = prepareComputedGraph(working, original, gc.program.VertexComputeKeys())
		finalGraph = prepareFinalGraph(computed, s.persist)
		if s.persist != NOTHING && s.outputLocation != "" {
			if err = storage.WriteGraph(ctx, s.outputLocation, finalGraph); err != nil {
				return nil, wrapKind(ErrIO, err, "writing %q", s.outputLocation)
			}
		}
	}

	// 4. map reduce
	if len(gc.mapReduces) > 0 {
		mapReduceGraph := computed
		if !readsEdges(gc.mapReduces) {
			mapReduceGraph = mapReduceGraph.MapValues(withoutEdges)
		}
		if len(gc.mapReduces) > 1 {
			if mapReduceGraph, err = mapReduceGraph.Persist(s.level, s.codec); err != nil {
				return nil, wrapKind(ErrIO, err, "persisting map reduce input")
			}
			persisted = append(persisted, mapReduceGraph)
		}
		for _, job := range gc.mapReduces {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
			if err = runMapReduce(ctx, mapReduceGraph, job, memory); err != nil {
				return nil, err
			}
			if s.outputLocation == "" {
				continue
			}
			value, getErr := memory.Get(job.MemoryKey())
			if getErr != nil {
				continue
			}
			if err = storage.WriteMemory(ctx, s.outputLocation, job.MemoryKey(), value); err != nil {
				return nil, wrapKind(ErrIO, err, "writing memory %q", job.MemoryKey())
			}
		}
	}

	// 5. result
	var resultGraph *graph.Collection
	switch {
	case s.resultGraph == ORIGINAL:
		resultGraph = input
	case s.persist == NOTHING:
		resultGraph = graph.NewCollection(nil, nil)
	default:
		resultGraph = finalGraph
	}
	result = &ComputerResult{
		Graph:   resultGraph,
		Memory:  memory.complete(),
		Runtime: time.Since(start),
	}
	logger.Infof("run: job completed in %v", result.Runtime)
	return result, nil
}

// propertyKeys records the properties each vertex had before computation.
func propertyKeys(g *graph.Collection) map[uint64]map[string]bool {
	keys := make(map[uint64]map[string]bool, g.Count())
	for _, v := range g.Vertices() {
		set := make(map[string]bool, len(v.Properties))
		for key := range v.Properties {
			set[key] = true
		}
		keys[v.Id] = set
	}
	return keys
}

// prepareComputedGraph keeps the original properties and the declared
// non-transient compute keys of every vertex. Anything else a program wrote
// is dropped.
func prepareComputedGraph(
	g *graph.Collection, original map[uint64]map[string]bool, keys []VertexComputeKey,
) *graph.Collection {
	declared := make(map[string]bool, len(keys))
	for _, k := range keys {
		declared[k.Key] = !k.IsTransient
	}
	return g.MapValues(func(v *graph.Vertex) *graph.Vertex {
		for _, key := range v.PropertyKeys() {
			keep, isComputeKey := declared[key]
			if isComputeKey && !keep || !isComputeKey && !original[v.Id][key] {
				v.RemoveProperty(key)
			}
		}
		return v
	})
}

// prepareFinalGraph keeps adjacency only when edges are persisted.
func prepareFinalGraph(computed *graph.Collection, persist Persist) *graph.Collection {
	if persist == EDGES {
		return computed
	}
	return computed.MapValues(withoutEdges)
}

func withoutEdges(v *graph.Vertex) *graph.Vertex {
	stripped := v.Clone()
	stripped.DropEdges()
	return stripped
}

func readsEdges(jobs []MapReduce) bool {
	for _, job := range jobs {
		if reader, ok := job.(EdgeReader); ok && reader.ReadsEdges() {
			return true
		}
	}
	return false
}

// Cleanup errors join the failure that caused them.
func joinErrors(err error, cleanup ...error) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, e := range cleanup {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}
