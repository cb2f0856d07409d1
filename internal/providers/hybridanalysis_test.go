// ABOUTME: Tests for the Hybrid Analysis adapter against an httptest upstream
// ABOUTME: Covers search hits, submission and state polling, sandbox errors, and normalization

package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const haSearchHit = `[{
	"job_id": "job-42",
	"threat_score": "85",
	"verdict": "malicious",
	"vx_family": "Agent.Tesla",
	"tags": ["stealer", "dotnet"],
	"processes": [{"name": "a.exe"}, {"name": "b.exe"}],
	"network_connections": [{"host": "203.0.113.7"}],
	"signatures": [
		{"name": "Reads browser credentials", "threat_level": 2, "description": "Accesses Login Data"},
		{"name": "Sleeps long", "severity": "1"}
	]
}]`

type fakeHybrid struct {
	searchBody  string
	states      []string
	summaryBody string

	searches    atomic.Int32
	submissions atomic.Int32
	stateChecks atomic.Int32
	badKey      atomic.Int32
}

func (f *fakeHybrid) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/hash", func(w http.ResponseWriter, r *http.Request) {
		f.checkKey(r)
		f.searches.Add(1)
		if r.URL.Query().Get("hash") == "" {
			http.Error(w, "missing hash", http.StatusBadRequest)
			return
		}
		// With a state script the report only appears after submission.
		if f.states != nil && f.submissions.Load() == 0 {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(f.searchBody))
	})
	mux.HandleFunc("POST /submit/file", func(w http.ResponseWriter, r *http.Request) {
		f.checkKey(r)
		if r.FormValue("environment_id") != "160" {
			http.Error(w, "bad environment", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		f.submissions.Add(1)
		writeJSON(w, map[string]string{"submission_id": "sub-1"})
	})
	mux.HandleFunc("GET /report/sub-1/state", func(w http.ResponseWriter, r *http.Request) {
		f.checkKey(r)
		n := int(f.stateChecks.Add(1))
		state := f.states[len(f.states)-1]
		if n <= len(f.states) {
			state = f.states[n-1]
		}
		writeJSON(w, map[string]string{"state": state})
	})
	mux.HandleFunc("GET /report/sub-1/summary", func(w http.ResponseWriter, r *http.Request) {
		f.checkKey(r)
		_, _ = w.Write([]byte(f.summaryBody))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeHybrid) checkKey(r *http.Request) {
	if r.Header.Get("api-key") != testAPIKey || r.Header.Get("User-Agent") != DefaultHybridAnalysisUserAgent {
		f.badKey.Add(1)
	}
}

func newTestHybrid(srv *httptest.Server, attempts int) *HybridAnalysis {
	return NewHybridAnalysis(HybridAnalysisConfig{
		APIKey:          testAPIKey,
		BaseURL:         srv.URL,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: attempts,
		Logger:          discardLogger(),
		now:             func() time.Time { return fixedNow },
	})
}

func TestHybridAnalysis_SearchHit(t *testing.T) {
	t.Parallel()

	fake := &fakeHybrid{searchBody: haSearchHit}
	ha := newTestHybrid(fake.server(t), 3)

	report, err := ha.Analyze(context.Background(), []byte("payload")).Result()
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if fake.submissions.Load() != 0 {
		t.Error("submitted despite an existing report")
	}
	if fake.badKey.Load() != 0 {
		t.Error("request sent without api-key or user agent")
	}

	hr := report.HybridAnalysis
	if hr == nil {
		t.Fatal("HybridAnalysis sub-report is nil")
	}
	if hr.ThreatScore != 85 || hr.Verdict != "malicious" || hr.MalwareFamily != "Agent.Tesla" {
		t.Errorf("score=%d verdict=%q family=%q", hr.ThreatScore, hr.Verdict, hr.MalwareFamily)
	}
	if hr.Processes != 2 || hr.NetworkConnections != 1 {
		t.Errorf("processes=%d connections=%d, want 2/1", hr.Processes, hr.NetworkConnections)
	}
	if len(hr.Signatures) != 2 || hr.Signatures[0].Severity != 2 || hr.Signatures[1].Severity != 1 {
		t.Errorf("Signatures = %+v", hr.Signatures)
	}
	if hr.SubmitID != "job-42" {
		t.Errorf("SubmitID = %q, want job-42", hr.SubmitID)
	}
	if report.Verdict() != types.VerdictMalicious {
		t.Errorf("Verdict() = %q", report.Verdict())
	}
}

func TestHybridAnalysis_SubmitAndPoll(t *testing.T) {
	t.Parallel()

	fake := &fakeHybrid{searchBody: haSearchHit, states: []string{"IN_QUEUE", "IN_PROGRESS", "SUCCESS"}}
	ha := newTestHybrid(fake.server(t), 10)

	out := ha.Analyze(context.Background(), []byte("payload"))
	if out.State != StateComplete {
		t.Fatalf("State = %v, want complete (err=%v)", out.State, out.Err)
	}
	if out.SubmissionID != "sub-1" {
		t.Errorf("SubmissionID = %q, want sub-1", out.SubmissionID)
	}
	if out.PollAttempts != 3 {
		t.Errorf("PollAttempts = %d, want 3", out.PollAttempts)
	}
	if out.Report.HybridAnalysis.SubmitID != "sub-1" {
		t.Errorf("report SubmitID = %q, want sub-1", out.Report.HybridAnalysis.SubmitID)
	}
}

func TestHybridAnalysis_FallsBackToSummary(t *testing.T) {
	t.Parallel()

	fake := &fakeHybrid{
		searchBody:  `[]`,
		states:      []string{"SUCCESS"},
		summaryBody: `{"threat_score": 10, "verdict": "no specific threat"}`,
	}
	ha := newTestHybrid(fake.server(t), 3)

	report, err := ha.Analyze(context.Background(), []byte("benign")).Result()
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.HybridAnalysis.ThreatScore != 10 {
		t.Errorf("ThreatScore = %d, want 10", report.HybridAnalysis.ThreatScore)
	}
	if report.Verdict() != types.VerdictClean {
		t.Errorf("Verdict() = %q, want clean", report.Verdict())
	}
}

func TestHybridAnalysis_PollOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		states    []string
		wantState State
		wantErr   error
	}{
		{name: "sandbox error", states: []string{"IN_QUEUE", "ERROR"}, wantState: StateFailed, wantErr: ErrAnalysisFailed},
		{name: "never finishes", states: []string{"IN_PROGRESS"}, wantState: StateTimedOut, wantErr: ErrTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeHybrid{searchBody: haSearchHit, states: tt.states}
			ha := newTestHybrid(fake.server(t), 5)

			out := ha.Analyze(context.Background(), []byte("payload"))
			if out.State != tt.wantState {
				t.Errorf("State = %v, want %v", out.State, tt.wantState)
			}
			if !errors.Is(out.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", out.Err, tt.wantErr)
			}
			if out.SubmissionID != "sub-1" {
				t.Errorf("SubmissionID = %q, want sub-1", out.SubmissionID)
			}
		})
	}
}

func TestFlexInt_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    flexInt
		wantErr bool
	}{
		{in: `7`, want: 7},
		{in: `"42"`, want: 42},
		{in: `3.0`, want: 3},
		{in: `null`, want: 0},
		{in: `"high"`, wantErr: true},
	}

	for _, tt := range tests {
		var n flexInt
		err := n.UnmarshalJSON([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if n != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %d, want %d", tt.in, n, tt.want)
		}
	}
}
