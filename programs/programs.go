// Package programs holds the built-in vertex programs and MapReduce jobs.
package programs

import (
	"encoding/gob"

	"graphcomputer/bagel"
)

const (
	REACHABILITY         = "Reachability"
	PAGE_RANK            = "PageRank"
	SHORTEST_PATH        = "ShortestPath"
	TRAVERSAL            = "Traversal"
	PROPERTY_MAP_REDUCE  = "PropertyMapReduce"
	COUNT_MAP_REDUCE     = "CountMapReduce"
	TRAVERSER_MAP_REDUCE = "TraverserMapReduce"
)

func init() {
	bagel.RegisterVertexProgram(REACHABILITY, func() bagel.VertexProgram { return &Reachability{} })
	bagel.RegisterVertexProgram(PAGE_RANK, func() bagel.VertexProgram { return &PageRank{} })
	bagel.RegisterVertexProgram(SHORTEST_PATH, func() bagel.VertexProgram { return &ShortestPath{} })
	bagel.RegisterVertexProgram(TRAVERSAL, func() bagel.VertexProgram { return &TraversalProgram{} })

	bagel.RegisterMapReduce(PROPERTY_MAP_REDUCE, func() bagel.MapReduce { return &PropertyMapReduce{} })
	bagel.RegisterMapReduce(COUNT_MAP_REDUCE, func() bagel.MapReduce { return &CountMapReduce{} })
	bagel.RegisterMapReduce(TRAVERSER_MAP_REDUCE, func() bagel.MapReduce { return &TraverserMapReduce{} })

	gob.Register(PageRankMessage{})
	gob.Register(map[uint64]float64{})
	gob.Register(map[uint64]interface{}{})
}

// changed reads and resets a transient Or flag. Programs use it to vote to
// halt when a superstep changed nothing.
func changed(memory bagel.Memory, key string) (bool, error) {
	value, err := memory.Get(key)
	if err != nil {
		return false, nil
	}
	flag, _ := value.(bool)
	return flag, memory.Set(key, false)
}
