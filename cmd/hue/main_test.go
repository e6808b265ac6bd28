package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDownloadWait_ExitsWithOutcomeCode(t *testing.T) {
	var polls atomic.Int32
	result, _ := json.Marshal(app.RangeResult{
		SeriesID: "1", Title: "Frieren", Outcome: domain.OutcomePolicyBlocked, ExitCode: domain.ExitPolicyBlocked,
		Episodes: []app.AcquireResult{{Episode: 1, Outcome: domain.OutcomePolicyBlocked, Attempts: 1, Reason: "blocked tag ECCHI"}},
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/download", func(w http.ResponseWriter, r *http.Request) {
		var req app.DownloadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Link != "https://www.miruro.to/watch?id=1&ep=1" || req.Episodes != "1" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(app.CommandStatus{Status: "queued", Message: "downloading episode 1", Job: &app.JobDTO{ID: "j1"}})
	})
	mux.HandleFunc("/api/v1/jobs/j1", func(w http.ResponseWriter, r *http.Request) {
		job := app.JobDTO{ID: "j1", State: domain.JobRunning, Progress: 0}
		if polls.Add(1) > 1 {
			job = app.JobDTO{ID: "j1", State: domain.JobFailed, Progress: 1, Result: result, ErrorCode: "policy_blocked", Error: "blocked tag ECCHI"}
		}
		_ = json.NewEncoder(w).Encode(job)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out, err := runCLI(t, "--server", ts.URL, "download", "https://www.miruro.to/watch?id=1&ep=1", "-e", "1", "--wait", "--poll", "10ms")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != domain.ExitPolicyBlocked {
		t.Fatalf("expected exit 69, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "Frieren: policy_blocked") || !strings.Contains(out, "blocked tag ECCHI") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDownload_ServerRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid reference format","code":"invalid_request"}`))
	}))
	defer ts.Close()

	_, err := runCLI(t, "--server", ts.URL, "download", "https://example.com")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Body.Code != "invalid_request" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestJobsTable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "failed" {
			t.Errorf("state filter not forwarded: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]app.JobDTO{{ID: "j9", Type: "download", Target: "154587/sub ep 2-5", State: domain.JobFailed, Progress: 0.5, ErrorCode: "exhausted_retries"}})
	}))
	defer ts.Close()

	out, err := runCLI(t, "--server", ts.URL, "jobs", "--state", "failed")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	for _, want := range []string{"j9", "download", "154587/sub ep 2-5", "50%", "exhausted_retries"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestConfigSample(t *testing.T) {
	out, err := runCLI(t, "config", "sample")
	if err != nil {
		t.Fatalf("config sample: %v", err)
	}
	if !strings.Contains(out, "[acquisition]") {
		t.Fatalf("unexpected sample:\n%s", out)
	}
}

func TestFollowAndNotifyFlags(t *testing.T) {
	got := map[string]app.FollowRequest{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req app.FollowRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got[r.Method+" "+r.URL.Path] = req
		_ = json.NewEncoder(w).Encode(app.CommandStatus{Status: "ok", Message: "done"})
	}))
	defer ts.Close()

	link := "https://www.miruro.to/watch?id=21"
	if _, err := runCLI(t, "--server", ts.URL, "follow", link, "--subscriber", "42", "--notify"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, err := runCLI(t, "--server", ts.URL, "notify", link, "--subscriber", "42", "--on=false", "--dub"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if f := got["POST /api/v1/follow"]; !f.Notify || f.Subscriber != "42" || f.Link != link {
		t.Fatalf("unexpected follow request: %+v", f)
	}
	if n := got["POST /api/v1/notify"]; n.Notify || !n.Dub {
		t.Fatalf("unexpected notify request: %+v", n)
	}
}
