package bagel

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

type SuperStep struct {
	Id       uint64
	Messages map[uint64][]interface{}
}

// Worker owns one partition and its own program instance, rebuilt from the
// program configuration.
type Worker struct {
	WorkerId  uint32
	SuperStep SuperStep
	Vertices  []*graph.Vertex
	program   VertexProgram
	combiner  MessageCombiner
	logger    *log.Entry
}

func NewWorker(workerId uint32, partition []*graph.Vertex, programConfig Configuration) (*Worker, error) {
	program, err := CreateVertexProgram(programConfig)
	if err != nil {
		return nil, err
	}
	combiner, _ := program.(MessageCombiner)
	return &Worker{
		WorkerId: workerId,
		SuperStep: SuperStep{
			Id:       0,
			Messages: make(map[uint64][]interface{}),
		},
		Vertices: partition,
		program:  program,
		combiner: combiner,
		logger:   log.WithField("worker", workerId),
	}, nil
}

// ComputeVertices executes the program on every vertex of the partition for
// one superstep.
func (w *Worker) ComputeVertices(args ProgressSuperStep, memory *workerMemory) (result *ProgressSuperStepResult) {
	result = &ProgressSuperStepResult{
		WorkerId:     w.WorkerId,
		SuperStepNum: args.SuperStepNum,
		Memory:       memory,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Err = errors.Errorf("worker %v panicked in superstep %v: %v", w.WorkerId, args.SuperStepNum, r)
		}
	}()

	messenger := newVertexMessenger(w.SuperStep.Messages, w.combiner)
	for _, vertex := range w.Vertices {
		messenger.current = vertex.Id
		if err := w.program.Execute(vertex, messenger, memory); err != nil {
			result.Err = errors.Wrapf(err, "worker %v vertex %v", w.WorkerId, vertex.Id)
			return result
		}
	}

	w.SuperStep.Id = args.SuperStepNum
	result.IsActive = messenger.sent > 0
	result.Messages = messenger.outgoing
	w.logger.Debugf(
		"ComputeVertices: superstep %v computed %d vertices, sent %d messages",
		args.SuperStepNum, len(w.Vertices), messenger.sent,
	)
	return result
}

// ReceiveWorkerMessages installs the messages of the next superstep.
func (w *Worker) ReceiveWorkerMessages(messages map[uint64][]interface{}) {
	if messages == nil {
		messages = make(map[uint64][]interface{})
	}
	w.SuperStep.Messages = messages
}

func (w *Worker) String() string {
	return fmt.Sprintf("worker %v (%d vertices)", w.WorkerId, len(w.Vertices))
}
