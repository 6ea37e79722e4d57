package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/scheduler"
	"github.com/BTreeMap/FormPipe/internal/store"
	"github.com/BTreeMap/FormPipe/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	sched := scheduler.NewScheduler()
	t.Cleanup(sched.Stop)
	return NewServer(st, sched), st
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestCreateRegistration_Queued(t *testing.T) {
	s, st := newTestServer(t)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/registrations", models.RegistrationRequest{URL: " https://lu.ma/event "})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "POST /registrations")
	resp := testutil.AssertJSONResponse(t, rr, models.APIStatusQueued)

	var result struct {
		JobID string `json:"job_id"`
	}
	testutil.DecodeResult(t, resp, &result)
	job, _ := st.GetJob(result.JobID)
	if job == nil {
		t.Fatalf("Job %q not stored", result.JobID)
	}
	if job.Kind != store.JobKindRegistration || job.DedupeKey != "https://lu.ma/event" {
		t.Errorf("Unexpected job %+v", job)
	}
	if job.PayloadJSON != `{"url":"https://lu.ma/event"}` {
		t.Errorf("Unexpected payload %s", job.PayloadJSON)
	}

	// Same URL again joins the pending job.
	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/registrations", models.RegistrationRequest{URL: "https://lu.ma/event"}))
	var again struct {
		JobID string `json:"job_id"`
	}
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusQueued), &again)
	if again.JobID != result.JobID {
		t.Errorf("Expected deduped job %q, got %q", result.JobID, again.JobID)
	}
}

func TestCreateRegistration_RunAt(t *testing.T) {
	s, st := newTestServer(t)
	runAt := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/registrations",
		models.RegistrationRequest{URL: "https://lu.ma/later", RunAt: runAt.Format(time.RFC3339)}))
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "POST with run_at")

	jobs, _ := st.ListJobs(0)
	if len(jobs) != 1 || !jobs[0].RunAt.Equal(runAt) {
		t.Errorf("Expected job at %v, got %+v", runAt, jobs)
	}
}

func TestCreateRegistration_Invalid(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"url":`},
		{"missing url", `{}`},
		{"relative url", `{"url":"/event"}`},
		{"ftp url", `{"url":"ftp://e.example/x"}`},
		{"run_at and cron", `{"url":"https://e.example","run_at":"2030-01-01T00:00:00Z","cron":"* * * * *"}`},
		{"bad run_at", `{"url":"https://e.example","run_at":"tomorrow"}`},
		{"bad cron", `{"url":"https://e.example","cron":"every day"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, "/registrations", strings.NewReader(tt.body))
			rr := serve(s, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, models.APIStatusError)
		})
	}
}

func TestCreateRegistration_Cron(t *testing.T) {
	s, _ := newTestServer(t)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/registrations",
		models.RegistrationRequest{URL: "https://lu.ma/weekly", Cron: "0 9 * * MON"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "POST with cron")
	testutil.AssertJSONResponse(t, rr, models.APIStatusScheduled)

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/schedules", nil))
	var schedules []scheduler.Schedule
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusOK), &schedules)
	if len(schedules) != 1 || schedules[0].Key != "https://lu.ma/weekly" {
		t.Fatalf("Unexpected schedules %+v", schedules)
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodDelete, "/schedules?url=https://lu.ma/weekly", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "DELETE schedule")
	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodDelete, "/schedules?url=https://lu.ma/weekly", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "DELETE schedule twice")
}

func TestCreateRegistration_CronWithoutScheduler(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), nil)
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/registrations",
		models.RegistrationRequest{URL: "https://lu.ma/weekly", Cron: "@daily"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "cron without scheduler")
}

func TestGetRegistration(t *testing.T) {
	s, st := newTestServer(t)

	id, _ := st.EnqueueJob(store.JobSpec{Kind: store.JobKindRegistration, RunAt: time.Now().Add(-time.Second), DedupeKey: "https://e.example"})
	st.AddOutcome(models.Outcome{ID: "o1", URL: "https://e.example", Status: models.OutcomeRegistered})
	st.ClaimDueJobs(time.Now(), 1)
	st.CompleteJob(id, "o1")

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/registrations/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET registration")
	var status RegistrationStatus
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusOK), &status)
	if status.Job.ID != id || status.Job.Status != store.JobStatusDone {
		t.Errorf("Unexpected job %+v", status.Job)
	}
	if status.Outcome == nil || status.Outcome.Status != models.OutcomeRegistered {
		t.Errorf("Expected registered outcome, got %+v", status.Outcome)
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/registrations/job_missing", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "GET missing registration")

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodDelete, "/registrations/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "DELETE finished registration")
}

func TestCancelRegistration(t *testing.T) {
	s, st := newTestServer(t)
	id, _ := st.EnqueueJob(store.JobSpec{Kind: store.JobKindRegistration, RunAt: time.Now().Add(time.Hour)})

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodDelete, "/registrations/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "DELETE registration")
	job, _ := st.GetJob(id)
	if job.Status != store.JobStatusCanceled {
		t.Errorf("Expected canceled, got %q", job.Status)
	}
}

func TestListRegistrations(t *testing.T) {
	s, st := newTestServer(t)
	st.EnqueueJob(store.JobSpec{Kind: store.JobKindRegistration})
	st.EnqueueJob(store.JobSpec{Kind: store.JobKindRegistration})

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/registrations?limit=1", nil))
	var jobs []store.Job
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusOK), &jobs)
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", len(jobs))
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/registrations?limit=x", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad limit")
}

func TestOutcomesHandler(t *testing.T) {
	s, st := newTestServer(t)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/outcomes", nil))
	var empty []models.Outcome
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusOK), &empty)
	if len(empty) != 0 {
		t.Errorf("Expected no outcomes, got %d", len(empty))
	}

	st.AddOutcome(models.Outcome{ID: "a", URL: "https://a.example", Status: models.OutcomeRegistered})
	st.AddOutcome(models.Outcome{ID: "b", URL: "https://b.example", Status: models.OutcomeFormFailed})

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/outcomes?url=https://b.example", nil))
	var filtered []models.Outcome
	testutil.DecodeResult(t, testutil.AssertJSONResponse(t, rr, models.APIStatusOK), &filtered)
	if len(filtered) != 1 || filtered[0].ID != "b" {
		t.Errorf("Unexpected filtered outcomes %+v", filtered)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		method, path string
	}{
		{http.MethodPut, "/registrations"},
		{http.MethodPost, "/outcomes"},
		{http.MethodPost, "/health"},
		{http.MethodPatch, "/registrations/job_1"},
	}
	for _, tt := range tests {
		rr := serve(s, testutil.CreateHTTPRequest(t, tt.method, tt.path, nil))
		testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, tt.method+" "+tt.path)
		if rr.Header().Get("Allow") == "" {
			t.Errorf("%s %s: missing Allow header", tt.method, tt.path)
		}
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /health")
	testutil.AssertJSONResponse(t, rr, models.APIStatusOK)
}
