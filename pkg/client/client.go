// Package client is a thin JSON client over the control-surface API
// (pkg/api), used by cmd/supervisord's submit/get/list/abort
// subcommands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fathomquant/supervisor/pkg/types"
)

// Client talks to a running supervisor's local HTTP control surface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client targeting baseURL, e.g. "http://127.0.0.1:9090".
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

// Submit posts a new job and returns the resulting row.
func (c *Client) Submit(jobType string, spec types.Spec, metadata types.Metadata) (*types.Job, error) {
	body, err := json.Marshal(map[string]interface{}{
		"job_type": jobType,
		"spec":     spec,
		"metadata": metadata,
	})
	if err != nil {
		return nil, err
	}
	var job types.Job
	if err := c.do(http.MethodPost, "/jobs/", bytes.NewReader(body), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Get fetches a job by id.
func (c *Client) Get(jobID string) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List enumerates jobs, optionally filtered by state and/or job type.
func (c *Client) List(state, jobType string) ([]*types.Job, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if jobType != "" {
		q.Set("job_type", jobType)
	}
	path := "/jobs/"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var jobs []*types.Job
	if err := c.do(http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Abort requests cooperative cancellation of a job.
func (c *Client) Abort(jobID string) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/abort", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(method, path string, body *bytes.Reader, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		reqBody = body
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("client: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("client: %s %s: %s (%d)", method, path, errBody.Error, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
