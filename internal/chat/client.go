package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnavailable  = errors.New("agent unavailable")
	ErrTaskNotFound = errors.New("task not found")
	ErrAwaitTimeout = errors.New("task still pending after retries")
)

// Task statuses reported by the agent task manager.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusTimeout = "TIMEOUT"
)

// Submission identifies an accepted agent task, echoing the user and session
// ids actually used (minted when the caller left them blank).
type Submission struct {
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// TaskStatus is one poll of a running task.
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RetryPolicy bounds the Await polling loop: exponential doubling from
// InitialInterval, capped at MaxInterval, at most MaxAttempts polls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy waits roughly a minute for the agent to answer.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     20,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     8 * time.Second,
}

// Client talks to the agent task manager: submit a message, poll the task.
type Client struct {
	baseURL string
	appName string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		appName: "agent",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type submitRequest struct {
	AppName    string `json:"appName"`
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	NewMessage string `json:"newMessage"`
}

// Submit starts an agent task for message. Blank user or session ids are
// replaced with fresh UUIDs so the conversation stays addressable.
func (c *Client) Submit(ctx context.Context, message, userID, sessionID string) (Submission, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Submission{}, errors.New("message is required")
	}
	if userID == "" {
		userID = uuid.New().String()
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	body, err := json.Marshal(submitRequest{
		AppName:    c.appName,
		UserID:     userID,
		SessionID:  sessionID,
		NewMessage: message,
	})
	if err != nil {
		return Submission{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Submission{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var accepted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return Submission{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	return Submission{
		TaskID:    accepted.TaskID,
		UserID:    userID,
		SessionID: sessionID,
		Status:    accepted.Status,
	}, nil
}

// Status polls a task once.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task/"+taskID, nil)
	if err != nil {
		return TaskStatus{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return TaskStatus{}, ErrTaskNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return TaskStatus{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var status TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return TaskStatus{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return status, nil
}

// Await polls until the task reaches a terminal status or the policy's
// attempts run out, in which case it returns ErrAwaitTimeout.
func (c *Client) Await(ctx context.Context, taskID string, policy RetryPolicy) (TaskStatus, error) {
	interval := policy.InitialInterval
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		status, err := c.Status(ctx, taskID)
		if err != nil {
			return TaskStatus{}, err
		}
		if status.Status != StatusPending {
			return status, nil
		}
		slog.DebugContext(ctx, "agent task still pending", "task_id", taskID, "attempt", attempt+1, "next_poll_in", interval)

		select {
		case <-ctx.Done():
			return TaskStatus{}, ctx.Err()
		case <-time.After(interval):
		}
		if interval *= 2; interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}
	return TaskStatus{}, fmt.Errorf("%w: %s", ErrAwaitTimeout, taskID)
}
