// Package dispatch sends a subtask to a remote node's HTTP execution
// endpoint and parses its response, per spec §4.5.2/§4.5.3 and the wire
// contract in spec §6. It is injected into the engine the same way
// pkg/runtime.Runtime is, so tests substitute an httptest.Server.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/types"
)

// ExtraTimeout pads a subtask's declared max execution time to leave room
// for network round trip and the remote node's own bookkeeping. Callers
// that derive their own context for a Dispatch call (pkg/engine's remote
// and split executors) must add this allowance themselves, since
// context.WithTimeout can only narrow a parent deadline, never extend it.
const ExtraTimeout = 10 * time.Second

// Client posts subtasks to remote nodes and waits for their result inline,
// resolving spec §9 open question 1: a subtask's result is read from the
// same HTTP response that dispatched it, not fetched separately later.
type Client struct {
	http *http.Client
}

// New builds a dispatch Client. A nil httpClient uses http.DefaultClient's
// transport with a per-request timeout derived from each subtask's deadline.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

// Dispatch POSTs a subtask to the node's /execute_task endpoint and returns
// the node's parsed response. The request deadline is the subtask's
// max_execution_time plus a fixed allowance for transport overhead.
func (c *Client) Dispatch(ctx context.Context, node types.NodeDescriptor, payload types.SubtaskPayload) (*types.RemoteResponse, error) {
	logger := log.WithTaskID(payload.TaskID).With().Str("component", "dispatch").Str("node_id", node.ID).Logger()

	deadline := time.Duration(payload.MaxExecSeconds)*time.Second + ExtraTimeout
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subtask payload: %w", err)
	}

	url := fmt.Sprintf("http://%s/execute_task", node.Address())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug().Str("url", url).Msg("dispatching subtask")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("remote dispatch request failed")
		return nil, fmt.Errorf("remote dispatch to %s failed: %w", node.Address(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status_code", resp.StatusCode).Msg("remote node returned non-200")
		return nil, fmt.Errorf("remote node %s returned status %d", node.Address(), resp.StatusCode)
	}

	var remoteResp types.RemoteResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&remoteResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", node.Address(), err)
	}

	logger.Debug().Str("status", remoteResp.Status).Msg("subtask dispatch complete")

	return &remoteResp, nil
}
