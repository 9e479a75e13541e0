package bagel

import (
	"time"

	"graphcomputer/graph"
)

// ComputerResult is what a submission resolves to.
type ComputerResult struct {
	Graph   *graph.Collection
	Memory  *ImmutableMemory
	Runtime time.Duration
}

func (r *ComputerResult) RuntimeMillis() int64 {
	return r.Runtime.Milliseconds()
}
