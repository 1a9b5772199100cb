package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientConfig() *Config {
	return &Config{
		Token:        "tok",
		ProjectID:    "prj_123",
		TeamID:       "team_1",
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  2 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(testClientConfig())
	client.SetBaseURL(srv.URL)
	client.httpc = srv.Client()
	return client
}

func deploymentJSON(uid, state, sha string) map[string]any {
	return map[string]any{
		"uid":   uid,
		"state": state,
		"url":   uid + ".vercel.app",
		"meta":  map[string]any{"gitCommitSha": sha},
	}
}

func TestListDeployments(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/deployments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "prj_123", q.Get("projectId"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "team_1", q.Get("teamId"))
		assert.Equal(t, "ERROR", q.Get("state"))

		json.NewEncoder(w).Encode(map[string]any{
			"deployments": []any{deploymentJSON("dep1", "ERROR", "abc1234def")},
		})
	}))

	deployments, err := client.ListDeployments(context.Background(), 10, "ERROR")
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "dep1", deployments[0].UID)
	assert.Equal(t, "abc1234def", deployments[0].Meta.GitCommitSHA)
}

func TestListDeploymentsAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
	}))

	_, err := client.ListDeployments(context.Background(), 10, "")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestFindDeploymentByCommitPrefixMatch(t *testing.T) {
	fullSHA := "abc1234def5678901234"
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deployments": []any{
				deploymentJSON("other", "READY", "fff0000aaa"),
				deploymentJSON("dep1", "BUILDING", fullSHA),
			},
		})
	}))

	// The stored SHA matches the 7-character prefix of the query
	d, err := client.FindDeploymentByCommit(context.Background(), "abc1234", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "dep1", d.UID)

	d, err = client.FindDeploymentByCommit(context.Background(), fullSHA, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "dep1", d.UID)
}

func TestFindDeploymentByCommitHonorsContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"deployments": []any{}})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FindDeploymentByCommit(ctx, "abc1234", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForDeploymentReady(t *testing.T) {
	var statusCalls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/deployments":
			json.NewEncoder(w).Encode(map[string]any{
				"deployments": []any{deploymentJSON("dep1", "QUEUED", "abc1234def")},
			})
		case "/v13/deployments/dep1":
			state := "BUILDING"
			if statusCalls.Add(1) > 2 {
				state = "READY"
			}
			json.NewEncoder(w).Encode(deploymentJSON("dep1", state, "abc1234def"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	state, err := client.WaitForDeployment(context.Background(), "abc1234def")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, state.Status)
	assert.Equal(t, "dep1", state.DeploymentID)
	assert.Equal(t, "dep1.vercel.app", state.URL)
	assert.True(t, state.IsReady())
}

func TestWaitForDeploymentErrorParsesEvents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/deployments":
			json.NewEncoder(w).Encode(map[string]any{
				"deployments": []any{deploymentJSON("dep2", "BUILDING", "abc1234def")},
			})
		case "/v13/deployments/dep2":
			d := deploymentJSON("dep2", "ERROR", "abc1234def")
			d["errorMessage"] = "Build failed with exit 1"
			json.NewEncoder(w).Encode(d)
		case "/v2/deployments/dep2/events":
			fmt.Fprint(w, `[
				{"type": "stderr", "payload": {"text": "./src/app.ts:10:5 - error TS2345: Bad argument"}}
			]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	state, err := client.WaitForDeployment(context.Background(), "abc1234def")
	require.NoError(t, err)
	assert.Equal(t, StatusError, state.Status)
	assert.Equal(t, "Build failed with exit 1", state.ErrorMessage)
	assert.True(t, state.IsFailed())
	require.Len(t, state.Errors, 1)
	assert.Equal(t, "typescript", state.Errors[0].ErrorType)
}

func TestWaitForDeploymentCanceled(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/deployments":
			json.NewEncoder(w).Encode(map[string]any{
				"deployments": []any{deploymentJSON("dep3", "BUILDING", "abc1234def")},
			})
		case "/v13/deployments/dep3":
			json.NewEncoder(w).Encode(deploymentJSON("dep3", "CANCELED", "abc1234def"))
		}
	}))

	state, err := client.WaitForDeployment(context.Background(), "abc1234def")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, state.Status)
	assert.Equal(t, "Deployment was canceled", state.ErrorMessage)
}
