package traversal

import (
	"context"

	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

// Execute runs the traversal in process. Traversers advance in waves; equal
// traversers are merged between waves and each wave is processed by a pool
// of parallelism goroutines. It returns the halted traversers.
func (tr *Traversal) Execute(
	ctx context.Context, resolver graph.Resolver, parallelism int,
	starts ...interface{},
) (*TraverserSet, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	generator := tr.Generator()
	current := NewTraverserSet()
	for _, start := range starts {
		current.Add(generator.Generate(start, tr.StartId(), 1))
	}

	halted := NewTraverserSet()
	wave := 0
	for current.Len() > 0 {
		next := NewTraverserSet()
		traversers := current.Traversers()
		err := parallel(ctx, parallelism, traversers, func(t *Traverser) error {
			if t.IsHalted() {
				halted.Add(t)
				return nil
			}
			if _, err := t.Attach(resolver); err != nil {
				return err
			}
			outs, err := tr.Apply(t)
			if err != nil {
				return err
			}
			for _, o := range outs {
				if o.IsHalted() {
					halted.Add(o)
				} else {
					next.Add(o)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Debugf("Execute: wave %d processed %d traversers", wave, len(traversers))
		current = next
		wave++
	}
	return halted, nil
}

func parallel(ctx context.Context, parallelism int, traversers []*Traverser, fn func(*Traverser) error) error {
	work := make(chan *Traverser, len(traversers))
	errs := make(chan error, len(traversers))

	if parallelism < 1 {
		parallelism = 1
	}

	for i := 0; i < parallelism; i++ {
		go func(work <-chan *Traverser, errs chan<- error) {
			for t := range work {
				if err := ctx.Err(); err != nil {
					errs <- err
					continue
				}
				errs <- fn(t)
			}
		}(work, errs)
	}

	for _, t := range traversers {
		work <- t
	}
	close(work)

	var firstErr error
	for range traversers {
		err := <-errs
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return firstErr
}
