// Package agentclient provides the HTTP client for the counterparty
// task/message transport.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wxlim/dealbroker/domain"
)

// Client is an HTTP client for counterparty services.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new counterparty client. connectTimeout bounds dialing
// separately from the overall request timeout, so an unreachable host fails
// fast while a slow reply still gets the full budget.
func NewClient(timeout, connectTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
	}
}

// CreateTask registers a task on the counterparty and returns its local
// task id.
func (c *Client) CreateTask(ctx context.Context, endpoint string, task *domain.Task) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/a2a/task"
	resp, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal task response: %w", err)
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("counterparty returned no task_id")
	}
	return result.TaskID, nil
}

// SendMessage delivers a message to the counterparty task and returns the
// reply with its status tag.
func (c *Client) SendMessage(ctx context.Context, endpoint, taskID string, msg *domain.Message) (*domain.MessageReply, error) {
	body, err := json.Marshal(map[string]interface{}{
		"task_id": taskID,
		"message": msg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/a2a/message"
	resp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var reply domain.MessageReply
	if err := json.Unmarshal(resp, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return &reply, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call counterparty: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("counterparty returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
