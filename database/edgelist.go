package database

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

const (
	VERTEX_LABEL = "vertex"
	EDGE_LABEL   = "link"
	WEIGHT       = "weight"
)

var ErrEdgeList = errors.New("malformed edge list")

// Graph is an adjacency list keyed by source vertex.
type Graph map[uint64][]uint64

// ParseEdgeListFile reads a SNAP style edge list such as web-Google.txt.
func ParseEdgeListFile(filePath string) (*graph.Collection, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseEdgeList(file)
}

// ParseEdgeList parses one edge per line as "src dest" or "src dest weight",
// separated by tabs or spaces. Lines holding a '#' are comments. Every vertex
// named by an edge exists in the result, with the edge on both ends.
func ParseEdgeList(r io.Reader) (*graph.Collection, error) {
	vertices := make(map[uint64]*graph.Vertex)
	vertexOf := func(id uint64) *graph.Vertex {
		v, ok := vertices[id]
		if !ok {
			v = graph.NewVertex(id, VERTEX_LABEL)
			vertices[id] = v
		}
		return v
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	edges := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.Contains(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, errors.Wrapf(ErrEdgeList, "line %d: expected 2 or 3 fields, got %d", lineNum, len(fields))
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrEdgeList, "line %d: source %q", lineNum, fields[0])
		}
		dest, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrEdgeList, "line %d: destination %q", lineNum, fields[1])
		}
		var properties map[string]interface{}
		if len(fields) == 3 {
			weight, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, errors.Wrapf(ErrEdgeList, "line %d: weight %q", lineNum, fields[2])
			}
			properties = map[string]interface{}{WEIGHT: weight}
		}

		vertexOf(src).AddEdge(EDGE_LABEL, dest, properties)
		vertexOf(dest).AddInEdge(EDGE_LABEL, src, properties)
		edges++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	log.Printf("ParseEdgeList: successfully parsed %v nodes and %v edges", len(vertices), edges)
	return graphToVertices(vertices), nil
}

func graphToVertices(vertices map[uint64]*graph.Vertex) *graph.Collection {
	sorted := make([]*graph.Vertex, 0, len(vertices))
	for _, v := range vertices {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id < sorted[j].Id })
	return graph.FromVertices(sorted...)
}

// Adjacency flattens a collection back into out-neighbour lists.
func Adjacency(c *graph.Collection) Graph {
	adjacency := make(Graph, c.Count())
	for _, v := range c.Vertices() {
		adjacency[v.Id] = v.Neighbors(graph.OUT)
	}
	return adjacency
}
