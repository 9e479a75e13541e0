package bagel

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

type CoordConfig struct {
	JobId                   string
	StepsBetweenCheckpoints uint64
	CheckpointDir           string
	MaxRestarts             int
}

type superstepDone struct {
	allWorkersInactive bool
	isSuccess          bool
	err                error
	results            []*ProgressSuperStepResult
}

// Coord drives the supersteps of one vertex program over a partitioned
// graph: it starts every worker, waits at the barrier, routes messages,
// reduces memory and asks the program whether to stop.
type Coord struct {
	config            CoordConfig
	program           VertexProgram
	memory            *MapMemory
	workers           []*Worker
	vertexComputeKeys []VertexComputeKey
	partitionOf       map[uint64]int
	combiner          MessageCombiner

	superStepNumber      uint64
	lastCheckpointNumber uint64
	hasCheckpoint        bool
	restarts             int
	checkpoints          *checkpointStore

	workerDone      chan *ProgressSuperStepResult
	allWorkersReady chan superstepDone
	logger          *log.Entry
}

func NewCoord(
	config CoordConfig, g *graph.Collection, program VertexProgram,
	memory *MapMemory,
) (*Coord, error) {
	programConfig := make(Configuration)
	program.StoreState(programConfig)

	c := &Coord{
		config:            config,
		program:           program,
		memory:            memory,
		vertexComputeKeys: program.VertexComputeKeys(),
		partitionOf:       g.Index(),
		superStepNumber:   1,
		allWorkersReady:   make(chan superstepDone, 1),
		logger:            log.WithField("job", config.JobId),
	}
	c.combiner, _ = program.(MessageCombiner)

	for idx, partition := range g.Partitions {
		worker, err := NewWorker(uint32(idx), partition, programConfig)
		if err != nil {
			return nil, err
		}
		c.workers = append(c.workers, worker)
	}

	if config.StepsBetweenCheckpoints > 0 {
		store, err := openCheckpointStore(config.CheckpointDir, config.JobId)
		if err != nil {
			return nil, errors.Wrap(err, "NewCoord: failed to open checkpoints")
		}
		c.checkpoints = store
	}
	return c, nil
}

// Compute runs supersteps until the program terminates. Cancellation is
// observed between supersteps.
func (c *Coord) Compute(ctx context.Context) (err error) {
	if c.checkpoints != nil {
		defer func() {
			if closeErr := c.checkpoints.close(); closeErr != nil {
				c.logger.Warnf("Compute: failed to remove checkpoints: %v", closeErr)
				err = joinErrors(err, closeErr)
			}
		}()
		// superstep 0 is the state right after setup
		if err := c.checkpoint(0); err != nil {
			return err
		}
	}

	numWorkers := len(c.workers)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		progressSuperStep := ProgressSuperStep{
			SuperStepNum: c.superStepNumber,
			IsCheckpoint: c.shouldCheckpoint(),
			IsRestart:    c.restarts > 0 && c.superStepNumber == c.lastCheckpointNumber+1,
		}
		c.logger.Debugf(
			"Compute: progressing super step # %d, "+
				"should checkpoint: %v, is restart: %v",
			c.superStepNumber, progressSuperStep.IsCheckpoint, progressSuperStep.IsRestart,
		)

		c.workerDone = make(chan *ProgressSuperStepResult, numWorkers)
		for _, worker := range c.workers {
			go func(w *Worker, memory *workerMemory) {
				c.workerDone <- w.ComputeVertices(progressSuperStep, memory)
			}(worker, c.memory.workerView())
		}
		go c.blockWorkersReady(numWorkers, c.workerDone)

		result := <-c.allWorkersReady
		if !result.isSuccess {
			if !c.canRestart() {
				return result.err
			}
			c.logger.Warnf(
				"Compute: super step %d failed, restarting from checkpoint %d: %v",
				c.superStepNumber, c.lastCheckpointNumber, result.err,
			)
			if err := c.restartCheckpoint(); err != nil {
				return errors.Wrapf(err, "restart after %v", result.err)
			}
			continue
		}

		c.barrier(result.results)

		done, terminateErr := c.program.Terminate(c.memory)
		if terminateErr != nil {
			return terminateErr
		}
		c.logger.Debugf(
			"Compute superstep %v took %v s, all workers inactive: %v",
			c.superStepNumber, time.Since(start).Seconds(), result.allWorkersInactive,
		)
		if done {
			c.logger.Infof("Compute: complete after %d supersteps", c.superStepNumber)
			return nil
		}

		// checkpoints hold the memory as terminate left it
		if progressSuperStep.IsCheckpoint {
			if err := c.checkpoint(c.superStepNumber); err != nil {
				return err
			}
		}
		c.superStepNumber += 1
	}
}

func (c *Coord) SuperSteps() uint64 {
	return c.superStepNumber
}

func (c *Coord) Restarts() int {
	return c.restarts
}

func (c *Coord) shouldCheckpoint() bool {
	return c.checkpoints != nil &&
		c.superStepNumber%c.config.StepsBetweenCheckpoints == 0
}

func (c *Coord) canRestart() bool {
	return c.checkpoints != nil && c.hasCheckpoint && c.restarts < c.config.MaxRestarts
}

func (c *Coord) blockWorkersReady(
	numWorkers int, workerDone chan *ProgressSuperStepResult,
) {
	readyWorkerCounter := 0
	inactiveWorkerCounter := 0
	results := make([]*ProgressSuperStepResult, 0, numWorkers)
	var firstErr error

	for readyWorkerCounter < numWorkers {
		result := <-workerDone
		if result.Err != nil {
			log.Printf(
				"blockWorkersReady - worker %v: received error: %v",
				result.WorkerId, result.Err,
			)
			if firstErr == nil {
				firstErr = result.Err
			}
		} else if !result.IsActive {
			inactiveWorkerCounter++
		}
		results = append(results, result)
		readyWorkerCounter++
	}

	c.allWorkersReady <- superstepDone{
		allWorkersInactive: inactiveWorkerCounter == numWorkers,
		isSuccess:          firstErr == nil,
		err:                firstErr,
		results:            results,
	}
}

// barrier routes the messages of a superstep to the partitions owning their
// destinations and reduces the memory contributions of every worker.
func (c *Coord) barrier(results []*ProgressSuperStepResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].WorkerId < results[j].WorkerId
	})

	incoming := make([]map[uint64][]interface{}, len(c.workers))
	for idx := range incoming {
		incoming[idx] = make(map[uint64][]interface{})
	}
	dropped := 0
	memories := make([]*workerMemory, 0, len(results))
	for _, result := range results {
		memories = append(memories, result.Memory)
		for _, dest := range sortedIds(result.Messages) {
			idx, ok := c.partitionOf[dest]
			if !ok {
				dropped += len(result.Messages[dest])
				continue
			}
			messages := append(incoming[idx][dest], result.Messages[dest]...)
			if c.combiner != nil && len(messages) > 1 {
				combined := messages[0]
				for _, m := range messages[1:] {
					combined = c.combiner.CombineMessages(combined, m)
				}
				messages = []interface{}{combined}
			}
			incoming[idx][dest] = messages
		}
	}
	if dropped > 0 {
		c.logger.Debugf("barrier: dropped %d messages to unknown vertices", dropped)
	}

	for idx, worker := range c.workers {
		worker.ReceiveWorkerMessages(incoming[idx])
	}
	c.memory.completeSubRound(memories)
	c.memory.incrIteration()
}

func (c *Coord) checkpoint(superStepNumber uint64) error {
	state := make(map[uint64]VertexCheckpoint)
	for _, worker := range c.workers {
		for _, v := range worker.Vertices {
			state[v.Id] = checkpointVertex(v, c.vertexComputeKeys, worker.SuperStep.Messages[v.Id])
		}
	}
	memory, iteration := c.memory.state()
	err := c.checkpoints.storeCheckpoint(Checkpoint{
		SuperStepNumber: superStepNumber,
		CheckpointState: state,
		MemoryState:     memory,
		Iteration:       iteration,
	})
	if err != nil {
		return err
	}
	c.lastCheckpointNumber = superStepNumber
	c.hasCheckpoint = true
	c.logger.Debugf("checkpoint: stored checkpoint %d", superStepNumber)
	return nil
}

func (c *Coord) restartCheckpoint() error {
	checkpoint, err := c.checkpoints.retrieveCheckpoint(c.lastCheckpointNumber)
	if err != nil {
		return err
	}
	for _, worker := range c.workers {
		messages := make(map[uint64][]interface{})
		for _, v := range worker.Vertices {
			vertexCheckpoint, ok := checkpoint.CheckpointState[v.Id]
			if !ok {
				continue
			}
			vertexCheckpoint.restore(v, c.vertexComputeKeys)
			if len(vertexCheckpoint.Messages) > 0 {
				messages[v.Id] = vertexCheckpoint.Messages
			}
		}
		worker.ReceiveWorkerMessages(messages)
	}
	c.memory.restore(checkpoint.MemoryState, checkpoint.Iteration)
	c.superStepNumber = checkpoint.SuperStepNumber + 1
	c.restarts++
	return nil
}

func sortedIds(messages map[uint64][]interface{}) []uint64 {
	ids := make([]uint64, 0, len(messages))
	for id := range messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
