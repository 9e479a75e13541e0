package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/bagel"
)

type ClientConfig struct {
	ClientId  string
	CoordAddr string
}

// GraphClient talks to the coord's external API.
type GraphClient struct {
	clientId   string
	baseURL    string
	httpClient *http.Client
}

func NewClient(config ClientConfig) *GraphClient {
	baseURL := strings.TrimRight(config.CoordAddr, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &GraphClient{
		clientId:   config.ClientId,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *GraphClient) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrap(ErrUnknownQuery, apiErr.Error)
		}
		return errors.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendQuery submits q and returns the query id.
func (c *GraphClient) SendQuery(ctx context.Context, q bagel.Query) (string, error) {
	if q.ClientId == "" {
		q.ClientId = c.clientId
	}
	var reply struct {
		Id string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/query", q, &reply); err != nil {
		return "", err
	}
	log.Printf("SendQuery: query %v accepted", reply.Id)
	return reply.Id, nil
}

func (c *GraphClient) QueryProgress(ctx context.Context, id string, withGraph bool) (*QueryStatus, error) {
	path := fmt.Sprintf("/api/query/%s", id)
	if withGraph {
		path += "?graph=true"
	}
	status := &QueryStatus{}
	if err := c.do(ctx, http.MethodGet, path, nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *GraphClient) CancelQuery(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/query/%s", id), nil, nil)
}

func (c *GraphClient) ListQueries(ctx context.Context) ([]*QueryStatus, error) {
	var statuses []*QueryStatus
	if err := c.do(ctx, http.MethodGet, "/api/query", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// WaitForResult polls the coord until the query left the RUNNING state.
func (c *GraphClient) WaitForResult(ctx context.Context, id string, poll time.Duration, withGraph bool) (*QueryStatus, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		status, err := c.QueryProgress(ctx, id, withGraph)
		if err != nil {
			return nil, err
		}
		if status.State != RUNNING {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
