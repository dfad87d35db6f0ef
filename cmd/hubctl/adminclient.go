package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trybotster/botster-core/internal/orchestrator"
	"github.com/trybotster/botster-core/internal/task"
)

// adminClient talks to a running hubctl start instance's admin HTTP API.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(addr string) *adminClient {
	return &adminClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *adminClient) listSessions() ([]orchestrator.Session, error) {
	var sessions []orchestrator.Session
	if err := c.getJSON("/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *adminClient) listTasks() ([]*task.Task, error) {
	var tasks []*task.Task
	if err := c.getJSON("/tasks", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *adminClient) dumpSnapshot(sessionID string) ([]byte, error) {
	resp, err := c.http.Post(c.baseURL+"/sessions/"+sessionID+"/snapshot", "application/octet-stream", nil)
	if err != nil {
		return nil, runtimeError(fmt.Errorf("contacting hubctl admin API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *adminClient) resetBreaker(worktreeID string) error {
	resp, err := c.http.Post(c.baseURL+"/worktrees/"+worktreeID+"/breaker/reset", "application/octet-stream", nil)
	if err != nil {
		return runtimeError(fmt.Errorf("contacting hubctl admin API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *adminClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return runtimeError(fmt.Errorf("contacting hubctl admin API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorFromResponse(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Message
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return notFoundErrorf("%s", msg)
	case http.StatusConflict:
		return busyErrorf("%s", msg)
	default:
		return runtimeError(fmt.Errorf("%s", msg))
	}
}
