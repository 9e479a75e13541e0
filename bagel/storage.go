package bagel

import (
	"context"

	"graphcomputer/graph"
)

// Storage is a partitioned graph source and sink. Locations are opaque to
// the engine.
type Storage interface {
	ReadGraph(ctx context.Context, location string) (*graph.Collection, error)
	WriteGraph(ctx context.Context, location string, g *graph.Collection) error
	ReadMemory(ctx context.Context, location string, key string) (interface{}, error)
	WriteMemory(ctx context.Context, location string, key string, value interface{}) error
	Exists(ctx context.Context, location string) (bool, error)
	Delete(ctx context.Context, location string) error
}
