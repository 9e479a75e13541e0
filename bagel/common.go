package bagel

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// configuration keys
const (
	VERTEX_PROGRAM            = "bagel.vertexProgram"
	MAP_REDUCE                = "bagel.mapReduce"
	WORKERS                   = "bagel.workers"
	PERSIST                   = "bagel.persist"
	RESULT_GRAPH              = "bagel.resultGraph"
	SERIALIZER                = "bagel.serializer"
	STORAGE_LEVEL             = "bagel.storageLevel"
	PERSIST_CONTEXT           = "bagel.persistContext"
	FRESH_CONTEXT             = "bagel.freshContext"
	INPUT_LOCATION            = "bagel.inputLocation"
	OUTPUT_LOCATION           = "bagel.outputLocation"
	STEPS_BETWEEN_CHECKPOINTS = "bagel.stepsBetweenCheckpoints"
	CHECKPOINT_DIR            = "bagel.checkpointDir"
	MAX_RESTARTS              = "bagel.maxRestarts"
	TIMEOUT                   = "bagel.timeout"
	FILTER_VERTEX_LABELS      = "bagel.filter.vertexLabels"
	FILTER_EDGE_LABELS        = "bagel.filter.edgeLabels"
)

var (
	ErrConfiguration  = errors.New("invalid graph computer configuration")
	ErrInstantiation  = errors.New("could not instantiate program")
	ErrIO             = errors.New("graph input/output failed")
	ErrAlreadyStarted = errors.New("graph computer was already submitted")
)

// kindError classifies cause as one of the errors above. errors.Is matches
// both the kind and the cause, and errors.Cause returns the cause.
type kindError struct {
	kind  error
	cause error
	msg   string
}

func wrapKind(kind, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: kind, cause: cause, msg: fmt.Sprintf(format, args...)})
}

func (e *kindError) Error() string {
	return e.msg + ": " + e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func (e *kindError) Cause() error {
	return e.cause
}

// Persist decides what of the computed graph is kept.
type Persist string

const (
	NOTHING           Persist = "NOTHING"
	VERTEX_PROPERTIES Persist = "VERTEX_PROPERTIES"
	EDGES             Persist = "EDGES"
)

func ParsePersist(persist string) (Persist, error) {
	switch p := Persist(strings.ToUpper(persist)); p {
	case NOTHING, VERTEX_PROPERTIES, EDGES:
		return p, nil
	}
	return "", errors.Wrapf(ErrConfiguration, "unknown persist %q", persist)
}

// ResultGraph decides whether the result refers to the input graph or to
// the newly computed one.
type ResultGraph string

const (
	ORIGINAL ResultGraph = "ORIGINAL"
	NEW      ResultGraph = "NEW"
)

func ParseResultGraph(resultGraph string) (ResultGraph, error) {
	switch r := ResultGraph(strings.ToUpper(resultGraph)); r {
	case ORIGINAL, NEW:
		return r, nil
	}
	return "", errors.Wrapf(ErrConfiguration, "unknown result graph %q", resultGraph)
}

type ProgressSuperStep struct {
	SuperStepNum uint64
	IsCheckpoint bool
	IsRestart    bool
}

type ProgressSuperStepResult struct {
	WorkerId     uint32
	SuperStepNum uint64
	IsActive     bool
	Messages     map[uint64][]interface{}
	Memory       *workerMemory
	Err          error
}

type CheckpointMsg struct {
	SuperStepNumber uint64
	WorkerId        uint32
}

// Query is a submission as it travels between the client, the coord API and
// the graph computer.
type Query struct {
	ClientId   string          `json:"clientId"`
	Config     Configuration   `json:"config"`
	MapReduces []Configuration `json:"mapReduces,omitempty"`
}

// NewQuery stores the state of program and jobs into a submission. program
// may be nil for a MapReduce only query.
func NewQuery(clientId string, program VertexProgram, jobs ...MapReduce) Query {
	q := Query{ClientId: clientId, Config: make(Configuration)}
	if program != nil {
		program.StoreState(q.Config)
	}
	for _, job := range jobs {
		config := make(Configuration)
		job.StoreState(config)
		q.MapReduces = append(q.MapReduces, config)
	}
	return q
}
