package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/traversal"
)

// SERVICE is the name the coord reports in the gRPC health service.
const SERVICE = "bagel.Coord"

const (
	RUNNING   = "RUNNING"
	DONE      = "DONE"
	FAILED    = "FAILED"
	CANCELLED = "CANCELLED"
)

var ErrUnknownQuery = errors.New("unknown query")

type CoordConfig struct {
	ClientAPIListenAddr   string
	ExternalAPIListenAddr string
	Storage               string
	LogDir                string
	Verbose               bool
}

// QueryStatus is the externally visible state of a submitted query.
type QueryStatus struct {
	Id            string                 `json:"id"`
	ClientId      string                 `json:"clientId,omitempty"`
	State         string                 `json:"state"`
	Error         string                 `json:"error,omitempty"`
	Submitted     time.Time              `json:"submitted"`
	RuntimeMillis int64                  `json:"runtimeMillis,omitempty"`
	Iteration     int                    `json:"iteration,omitempty"`
	Memory        map[string]interface{} `json:"memory,omitempty"`
	Vertices      int                    `json:"vertices,omitempty"`
	Graph         []*graph.Vertex        `json:"graph,omitempty"`
}

type queryJob struct {
	id        string
	query     bagel.Query
	submitted time.Time
	future    *bagel.Future
}

// Coord accepts queries over HTTP and runs them on the graph computer
// against one storage.
type Coord struct {
	storage bagel.Storage
	health  *health.Server
	grpc    *grpc.Server
	router  *gin.Engine

	mu   sync.Mutex
	jobs map[string]*queryJob
}

func NewCoord(storage bagel.Storage) *Coord {
	c := &Coord{
		storage: storage,
		health:  health.NewServer(),
		grpc:    grpc.NewServer(),
		jobs:    make(map[string]*queryJob),
	}
	healthpb.RegisterHealthServer(c.grpc, c.health)
	c.health.SetServingStatus(SERVICE, healthpb.HealthCheckResponse_SERVING)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	externalAPI := router.Group("/api")
	{
		externalAPI.POST("/query", c.StartQuery)
		externalAPI.GET("/query", c.ListQueries)
		externalAPI.GET("/query/:id", c.QueryProgress)
		externalAPI.DELETE("/query/:id", c.CancelQuery)
		externalAPI.GET("/programs", c.ListPrograms)
	}
	c.router = router
	return c
}

type grpcMultiplexer struct {
	*grpcweb.WrappedGrpcServer
}

// Handler is used to route requests to either grpc or to regular http
func (m *grpcMultiplexer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if m.IsGrpcWebRequest(r) {
				m.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		},
	)
}

// Handler serves the HTTP API and grpc-web calls to the health service.
func (c *Coord) Handler() http.Handler {
	multiplex := grpcMultiplexer{grpcweb.WrapServer(c.grpc)}
	return multiplex.Handler(c.router)
}

func (c *Coord) StartQuery(context *gin.Context) {
	var q bagel.Query
	if err := context.ShouldBindJSON(&q); err != nil {
		context.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := c.Submit(q)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, bagel.ErrConfiguration) || errors.Is(err, bagel.ErrInstantiation) {
			status = http.StatusBadRequest
		}
		context.JSON(status, gin.H{"error": err.Error()})
		return
	}
	context.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (c *Coord) QueryProgress(context *gin.Context) {
	withGraph := context.Query("graph") == "true"
	status, err := c.Status(context.Param("id"), withGraph)
	if err != nil {
		context.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	context.JSON(http.StatusOK, status)
}

func (c *Coord) CancelQuery(context *gin.Context) {
	if err := c.Cancel(context.Param("id")); err != nil {
		context.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	context.JSON(http.StatusAccepted, gin.H{"id": context.Param("id")})
}

func (c *Coord) ListQueries(context *gin.Context) {
	context.JSON(http.StatusOK, c.List())
}

// ListPrograms names what a query can refer to.
func (c *Coord) ListPrograms(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{
		"programs":   bagel.RegisteredVertexPrograms(),
		"mapReduces": bagel.RegisteredMapReduces(),
		"traversals": traversal.Registered(),
	})
}

// Submit starts q in the background and returns its query id.
func (c *Coord) Submit(q bagel.Query) (string, error) {
	gc, err := bagel.FromQuery(q, nil, c.storage)
	if err != nil {
		return "", err
	}
	future, err := gc.Submit(context.Background())
	if err != nil {
		return "", err
	}
	job := &queryJob{
		id:        uuid.New().String(),
		query:     q,
		submitted: time.Now(),
		future:    future,
	}
	c.mu.Lock()
	c.jobs[job.id] = job
	c.mu.Unlock()
	log.Printf("Submit: client %v started query %v", q.ClientId, job.id)

	go func() {
		<-future.Done()
		_, err := future.Get(context.Background())
		if err != nil {
			log.Printf("Submit: query %v failed: %v", job.id, err)
		} else {
			log.Printf("Submit: query %v done", job.id)
		}
	}()
	return job.id, nil
}

func (c *Coord) job(id string) (*queryJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownQuery, "%q", id)
	}
	return job, nil
}

func (c *Coord) Status(id string, withGraph bool) (*QueryStatus, error) {
	job, err := c.job(id)
	if err != nil {
		return nil, err
	}
	return job.status(withGraph), nil
}

func (c *Coord) Cancel(id string) error {
	job, err := c.job(id)
	if err != nil {
		return err
	}
	job.future.Cancel()
	log.Printf("Cancel: cancelled query %v", id)
	return nil
}

// List returns every known query, oldest first.
func (c *Coord) List() []*QueryStatus {
	c.mu.Lock()
	jobs := make([]*queryJob, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, job)
	}
	c.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].submitted.Equal(jobs[j].submitted) {
			return jobs[i].id < jobs[j].id
		}
		return jobs[i].submitted.Before(jobs[j].submitted)
	})
	statuses := make([]*QueryStatus, 0, len(jobs))
	for _, job := range jobs {
		statuses = append(statuses, job.status(false))
	}
	return statuses
}

func (j *queryJob) status(withGraph bool) *QueryStatus {
	status := &QueryStatus{
		Id:        j.id,
		ClientId:  j.query.ClientId,
		State:     RUNNING,
		Submitted: j.submitted,
	}
	if !j.future.IsDone() {
		return status
	}
	result, err := j.future.Get(context.Background())
	switch {
	case err != nil && j.future.IsCancelled():
		status.State = CANCELLED
		status.Error = err.Error()
		return status
	case err != nil:
		status.State = FAILED
		status.Error = err.Error()
		return status
	}
	status.State = DONE
	status.RuntimeMillis = result.RuntimeMillis()
	status.Iteration = result.Memory.Iteration()
	status.Memory = make(map[string]interface{})
	for _, key := range result.Memory.Keys() {
		value, _ := result.Memory.Get(key)
		status.Memory[key] = jsonValue(value)
	}
	status.Vertices = result.Graph.Count()
	if withGraph {
		status.Graph = result.Graph.SortedVertices()
	}
	return status
}

// jsonValue keeps values encoding/json can write and prints the rest.
func jsonValue(value interface{}) interface{} {
	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprint(value)
	}
	return value
}

// Start serves gRPC on the client API address and HTTP plus grpc-web on the
// external API address until ctx is done.
func (c *Coord) Start(ctx context.Context, config CoordConfig) error {
	grpcListener, err := net.Listen("tcp", config.ClientAPIListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %v", config.ClientAPIListenAddr)
	}
	srv := &http.Server{
		Addr:         config.ExternalAPIListenAddr,
		Handler:      c.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("Start: listening for gRPC clients at %v", config.ClientAPIListenAddr)
		errCh <- c.grpc.Serve(grpcListener)
	}()
	go func() {
		log.Printf("Start: listening for external requests at %v", config.ExternalAPIListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	c.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	c.grpc.GracefulStop()
	return err
}

// Stop reports the coord as not serving and cancels the running queries.
func (c *Coord) Stop() {
	c.health.SetServingStatus(SERVICE, healthpb.HealthCheckResponse_NOT_SERVING)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, job := range c.jobs {
		if !job.future.IsDone() {
			job.future.Cancel()
		}
	}
}
