package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

const defaultBaseURL = "https://api.vercel.com"

// findDeploymentWait bounds how long we wait for a fresh deployment to
// appear after a push before giving up.
const findDeploymentWait = 60 * time.Second

// findDeploymentPoll is the retry delay while looking for a new deployment.
const findDeploymentPoll = 5 * time.Second

// APIError is a non-2xx response from the Vercel API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vercel api: %s (status %d)", e.Message, e.StatusCode)
}

// Deployment is the subset of Vercel's deployment object we use.
type Deployment struct {
	UID          string `json:"uid"`
	State        string `json:"state"`
	URL          string `json:"url"`
	ErrorMessage string `json:"errorMessage"`
	Meta         struct {
		GitCommitSHA string `json:"gitCommitSha"`
	} `json:"meta"`
}

// Event is one build log event.
type Event struct {
	Type    string `json:"type"`
	Payload struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	} `json:"payload"`
}

// Client talks to the Vercel REST API.
type Client struct {
	config  *Config
	httpc   *http.Client
	baseURL string
}

// NewClient builds a Vercel API client from config.
func NewClient(config *Config) *Client {
	return &Client{
		config:  config,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// SetBaseURL redirects the client, used by tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = strings.TrimRight(base, "/") }

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.config.TeamID != "" {
		params.Set("teamId", c.config.TeamID)
	}
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return json.Unmarshal(body, out)
}

// ListDeployments returns recent deployments for the configured project,
// optionally filtered by state.
func (c *Client) ListDeployments(ctx context.Context, limit int, state string) ([]Deployment, error) {
	params := url.Values{}
	params.Set("projectId", c.config.ProjectID)
	params.Set("limit", strconv.Itoa(limit))
	if state != "" {
		params.Set("state", state)
	}

	var result struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.get(ctx, "/v6/deployments", params, &result); err != nil {
		return nil, err
	}
	return result.Deployments, nil
}

// GetDeployment fetches one deployment by id.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	var d Deployment
	if err := c.get(ctx, "/v13/deployments/"+deploymentID, url.Values{}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeploymentEvents fetches the build log events, which carry the actual
// compiler output.
func (c *Client) GetDeploymentEvents(ctx context.Context, deploymentID string) ([]Event, error) {
	var events []Event
	if err := c.get(ctx, "/v2/deployments/"+deploymentID+"/events", url.Values{}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// FindDeploymentByCommit polls until a deployment for the given commit
// appears, matching either the full SHA or its 7-character prefix.
// Returns nil when none shows up inside the wait window.
func (c *Client) FindDeploymentByCommit(ctx context.Context, commitSHA string, wait time.Duration) (*Deployment, error) {
	deadline := time.Now().Add(wait)
	prefix := commitSHA
	if len(prefix) > 7 {
		prefix = prefix[:7]
	}

	for time.Now().Before(deadline) {
		deployments, err := c.ListDeployments(ctx, 10, "")
		if err != nil {
			return nil, err
		}
		for i := range deployments {
			sha := deployments[i].Meta.GitCommitSHA
			if sha != "" && (sha == commitSHA || strings.HasPrefix(sha, prefix)) {
				return &deployments[i], nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(findDeploymentPoll):
		}
	}
	return nil, nil
}

// WaitForDeployment locates the deployment for a commit and polls until it
// reaches a terminal state or the timeout elapses. The returned state
// always reflects the last observed status; on build failure the events
// are fetched and parsed into structured errors.
func (c *Client) WaitForDeployment(ctx context.Context, commitSHA string) (*DeploymentState, error) {
	logging.Deploy("waiting for deployment of commit %s", shortSHA(commitSHA))

	deployment, err := c.FindDeploymentByCommit(ctx, commitSHA, findDeploymentWait)
	if err != nil {
		return nil, err
	}
	if deployment == nil {
		return &DeploymentState{
			CommitSHA:    commitSHA,
			Status:       StatusError,
			ErrorMessage: fmt.Sprintf("no deployment found for commit %s after %s", shortSHA(commitSHA), findDeploymentWait),
			CreatedAt:    time.Now(),
		}, nil
	}

	state := &DeploymentState{
		DeploymentID: deployment.UID,
		CommitSHA:    commitSHA,
		Status:       deployment.State,
		URL:          deployment.URL,
		CreatedAt:    time.Now(),
	}
	logging.Deploy("found deployment %s in state %s", deployment.UID, deployment.State)

	deadline := time.Now().Add(c.config.PollTimeout)
	for time.Now().Before(deadline) {
		current, err := c.GetDeployment(ctx, state.DeploymentID)
		if err != nil {
			logging.DeployWarn("status check failed: %v", err)
			if waitErr := sleepCtx(ctx, c.config.PollInterval); waitErr != nil {
				return state, waitErr
			}
			continue
		}

		state.Status = strings.ToUpper(current.State)
		state.URL = current.URL

		switch state.Status {
		case StatusReady:
			logging.Deploy("deployment ready: https://%s", state.URL)
			return state, nil
		case StatusError:
			state.ErrorMessage = current.ErrorMessage
			if state.ErrorMessage == "" {
				state.ErrorMessage = "Build failed"
			}
			if events, evErr := c.GetDeploymentEvents(ctx, state.DeploymentID); evErr == nil {
				parser := NewLogParser()
				state.Errors = parser.ParseEvents(events)
			}
			logging.DeployError("deployment failed: %s (%d parsed errors)", state.ErrorMessage, len(state.Errors))
			return state, nil
		case StatusCanceled:
			state.ErrorMessage = "Deployment was canceled"
			return state, nil
		}

		logging.DeployDebug("deployment %s still %s", state.DeploymentID, state.Status)
		if waitErr := sleepCtx(ctx, c.config.PollInterval); waitErr != nil {
			return state, waitErr
		}
	}

	state.ErrorMessage = fmt.Sprintf("deployment timed out after %s", c.config.PollTimeout)
	return state, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
