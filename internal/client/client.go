// Package client talks to a scrapejobs server: it submits report jobs, polls
// them and fetches their results.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultPollInterval = time.Second
)

// ErrTaskFailed is returned by Wait when the job ends in the failed state.
var ErrTaskFailed = errors.New("task failed")

// Error is an error envelope returned by the server.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is a server error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Task is the acknowledgement of a submitted job.
type Task struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TaskStatus is one poll of a job.
type TaskStatus struct {
	ID        uuid.UUID       `json:"id"`
	State     models.JobState `json:"state"`
	Done      int             `json:"done"`
	Total     int             `json:"total"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// Client is a scrapejobs API client.
type Client struct {
	Base         string
	HTTP         *http.Client
	PollInterval time.Duration
}

// New returns a Client for the server at base, e.g. "http://localhost:3000".
func New(base string) *Client {
	return &Client{
		Base:         strings.TrimRight(base, "/"),
		HTTP:         &http.Client{Timeout: defaultTimeout},
		PollInterval: defaultPollInterval,
	}
}

// Submit creates a job for the given accounts.
func (c *Client) Submit(ctx context.Context, accounts []string) (Task, error) {
	var task Task
	err := c.do(ctx, http.MethodPost, "/api/v1/reports", map[string]any{"accounts": accounts}, &task)
	return task, err
}

// Poll returns the job's current status.
func (c *Client) Poll(ctx context.Context, id uuid.UUID) (TaskStatus, error) {
	var st TaskStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id.String(), nil, &st)
	return st, err
}

// Result fetches the records of a completed job.
func (c *Client) Result(ctx context.Context, id uuid.UUID) (models.Result, error) {
	var res models.Result
	err := c.do(ctx, http.MethodGet, "/api/v1/results/"+id.String(), nil, &res)
	return res, err
}

// Delete removes a job and its result from the server.
func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+id.String(), nil, nil)
}

// Wait polls the job until it completes or fails, calling onPoll after every
// poll when non-nil, and returns the result of a completed job.
func (c *Client) Wait(ctx context.Context, id uuid.UUID, onPoll func(TaskStatus)) (models.Result, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Poll(ctx, id)
		if err != nil {
			return models.Result{}, err
		}
		if onPoll != nil {
			onPoll(st)
		}

		switch st.State {
		case models.JobStateCompleted:
			return c.Result(ctx, id)
		case models.JobStateFailed:
			return models.Result{}, fmt.Errorf("%w: %s", ErrTaskFailed, id)
		}

		select {
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do sends a request and decodes the data envelope into v. Error envelopes
// are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if res.StatusCode >= 400 {
		var env struct {
			Error *Error `json:"error"`
		}
		if err := json.Unmarshal(resBody, &env); err != nil || env.Error == nil {
			return fmt.Errorf("unexpected response %d: %s", res.StatusCode, strings.TrimSpace(string(resBody)))
		}
		env.Error.StatusCode = res.StatusCode
		return env.Error
	}

	if v == nil || len(resBody) == 0 {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resBody, &env); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("invalid response data: %w", err)
	}
	return nil
}
