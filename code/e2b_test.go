package code

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

func TestE2BExecuteDispatchesTools(t *testing.T) {
	var prepared runnerPrepareRequest
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prepare":
			if err := json.NewDecoder(r.Body).Decode(&prepared); err != nil {
				t.Error(err)
			}
			fmt.Fprint(w, "{}")
		case "/execute":
			var req runnerExecRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Error(err)
				return
			}
			// Call the host back the way the remote interpreter would.
			body, _ := json.Marshal(runnerDispatchRequest{
				ExecutionID: req.ExecutionID,
				Name:        "search_links",
				Args:        map[string]any{"query": "golang"},
			})
			resp, err := http.Post(req.CallbackURL, "application/json", bytes.NewReader(body))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			var dr runnerDispatchResponse
			json.NewDecoder(resp.Body).Decode(&dr)
			resp.Body.Close()
			json.NewEncoder(w).Encode(runnerExecResponse{
				Stdout: dr.Data,
				State:  req.State,
				ToolCalls: []deepsearch.SandboxToolCall{
					{Name: "search_links", Args: map[string]any{"query": "golang"}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer runner.Close()

	sb := NewE2BSandbox(runner.URL)
	defer sb.Close()

	tools := map[string]deepsearch.Tool{"search_links": echoSandboxTool(t)}
	ctx := context.Background()
	if err := sb.Prepare(ctx, tools, []string{"json"}); err != nil {
		t.Fatal(err)
	}
	if len(prepared.Tools) != 1 || prepared.Tools[0] != "search_links" {
		t.Errorf("prepared tools = %v", prepared.Tools)
	}
	if prepared.CallbackURL == "" || !strings.Contains(prepared.CallbackURL, dispatchPath) {
		t.Errorf("callback url = %q", prepared.CallbackURL)
	}

	res, err := sb.Execute(ctx, `search_links(query="golang")`, map[string]any{"topic": "golang"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stdout, `"echo":"golang"`) {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "search_links" {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}
	if res.UpdatedState["topic"] != "golang" {
		t.Errorf("state = %+v", res.UpdatedState)
	}
}

func TestE2BExecuteRequiresPrepare(t *testing.T) {
	sb := NewE2BSandbox("http://127.0.0.1:1")
	defer sb.Close()
	if _, err := sb.Execute(context.Background(), "1 + 1", nil); err == nil {
		t.Fatal("expected error before Prepare")
	}
}

func TestE2BRetriesTransient5xx(t *testing.T) {
	var execCalls int32
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prepare":
			fmt.Fprint(w, "{}")
		case "/execute":
			if atomic.AddInt32(&execCalls, 1) == 1 {
				http.Error(w, "warming up", http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(runnerExecResponse{Stdout: "recovered"})
		}
	}))
	defer runner.Close()

	sb := NewE2BSandbox(runner.URL, WithRetryDelay(time.Millisecond))
	defer sb.Close()
	ctx := context.Background()
	if err := sb.Prepare(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	res, err := sb.Execute(ctx, "1 + 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "recovered" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if got := atomic.LoadInt32(&execCalls); got != 2 {
		t.Errorf("execute calls = %d", got)
	}
}

func TestE2BDoesNotRetryClientErrors(t *testing.T) {
	var execCalls int32
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prepare":
			fmt.Fprint(w, "{}")
		case "/execute":
			atomic.AddInt32(&execCalls, 1)
			http.Error(w, "bad code", http.StatusBadRequest)
		}
	}))
	defer runner.Close()

	sb := NewE2BSandbox(runner.URL, WithRetryDelay(time.Millisecond))
	defer sb.Close()
	ctx := context.Background()
	if err := sb.Prepare(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	_, err := sb.Execute(ctx, "1 +", nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
	if got := atomic.LoadInt32(&execCalls); got != 1 {
		t.Errorf("execute calls = %d", got)
	}
}

func TestE2BSendsBearerKey(t *testing.T) {
	var auth string
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, "{}")
	}))
	defer runner.Close()

	sb := NewE2BSandbox(runner.URL, WithAPIKey("e2b-key"))
	defer sb.Close()
	if err := sb.Prepare(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer e2b-key" {
		t.Errorf("auth = %q", auth)
	}
}
