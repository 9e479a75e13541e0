package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"graphcomputer/bagel"
	"graphcomputer/database"
	"graphcomputer/graph"
	"graphcomputer/programs"
)

func ringStorage(t *testing.T, n int) bagel.Storage {
	storage, err := database.NewFileStorage(t.TempDir(), database.Options{})
	require.NoError(t, err)
	vertices := make([]*graph.Vertex, n)
	for i := range vertices {
		vertices[i] = graph.NewVertex(uint64(i), "page")
	}
	for i, v := range vertices {
		next := (i + 1) % n
		v.AddEdge("next", uint64(next), nil)
		vertices[next].AddInEdge("next", v.Id, nil)
	}
	require.NoError(t, storage.WriteGraph(context.Background(), "ring", graph.FromVertices(vertices...)))
	return storage
}

func startCoord(t *testing.T) (*Coord, *GraphClient) {
	coord := NewCoord(ringStorage(t, 5))
	srv := httptest.NewServer(coord.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(coord.Stop)
	return coord, NewClient(ClientConfig{ClientId: "test", CoordAddr: srv.URL})
}

func reachabilityQuery() bagel.Query {
	q := bagel.NewQuery(
		"",
		programs.NewReachability(0, 2, graph.OUT),
		programs.NewPropertyMapReduce(programs.DISTANCE),
	)
	q.Config[bagel.INPUT_LOCATION] = "ring"
	q.Config[bagel.WORKERS] = 2
	return q
}

func TestSubmitAndWait(t *testing.T) {
	_, client := startCoord(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := client.SendQuery(ctx, reachabilityQuery())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := client.WaitForResult(ctx, id, 10*time.Millisecond, true)
	require.NoError(t, err)
	require.Equal(t, DONE, status.State, status.Error)
	assert.Equal(t, "test", status.ClientId)
	assert.Equal(t, 5, status.Vertices)
	assert.Len(t, status.Graph, 5)
	assert.Equal(t,
		map[string]interface{}{"0": 0.0, "1": 1.0, "2": 2.0},
		status.Memory[programs.DISTANCE],
	)

	statuses, err := client.ListQueries(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, id, statuses[0].Id)
	assert.Empty(t, statuses[0].Graph)
}

func TestRejectsBadQueries(t *testing.T) {
	_, client := startCoord(t)
	ctx := context.Background()

	_, err := client.SendQuery(ctx, bagel.Query{Config: bagel.Configuration{bagel.VERTEX_PROGRAM: "nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = client.SendQuery(ctx, bagel.Query{Config: bagel.Configuration{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = client.QueryProgress(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrUnknownQuery)
	assert.ErrorIs(t, client.CancelQuery(ctx, "missing"), ErrUnknownQuery)
}

func TestMalformedBody(t *testing.T) {
	coord, _ := startCoord(t)
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	coord.Handler().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestFailedQueryReportsError(t *testing.T) {
	coord, _ := startCoord(t)
	q := reachabilityQuery()
	q.Config[bagel.INPUT_LOCATION] = "missing"
	id, err := coord.Submit(q)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := coord.Status(id, false)
		return err == nil && status.State != RUNNING
	}, 10*time.Second, 10*time.Millisecond)
	status, err := coord.Status(id, false)
	require.NoError(t, err)
	assert.Equal(t, FAILED, status.State)
	assert.Contains(t, status.Error, "missing")
}

func TestHealth(t *testing.T) {
	coord := NewCoord(ringStorage(t, 1))
	ctx := context.Background()
	resp, err := coord.health.Check(ctx, &healthpb.HealthCheckRequest{Service: SERVICE})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	coord.Stop()
	resp, err = coord.health.Check(ctx, &healthpb.HealthCheckRequest{Service: SERVICE})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestListPrograms(t *testing.T) {
	coord, _ := startCoord(t)
	recorder := httptest.NewRecorder()
	coord.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/programs", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var reply map[string][]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	assert.Contains(t, reply["programs"], programs.PAGE_RANK)
	assert.Contains(t, reply["mapReduces"], programs.COUNT_MAP_REDUCE)
}
