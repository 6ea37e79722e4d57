package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/scheduler"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// RegistrationStatus is the body of GET /registrations/{id}.
type RegistrationStatus struct {
	Job     store.Job       `json:"job"`
	Outcome *models.Outcome `json:"outcome,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// registrationsHandler handles POST /registrations and GET /registrations.
func (s *Server) registrationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createRegistration(w, r)
	case http.MethodGet:
		s.listRegistrations(w, r)
	default:
		slog.Warn("Server.registrationsHandler: method not allowed", "method", r.Method)
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) createRegistration(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.RegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.createRegistration: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := req.Validate(); err != nil {
		slog.Warn("Server.createRegistration: validation failed", "error", err, "url", req.URL)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if req.Cron != "" {
		s.scheduleRegistration(w, req)
		return
	}

	id, err := s.Enqueue(req.URL, req.RunAtTime())
	if err != nil {
		slog.Error("Server.createRegistration: enqueue failed", "error", err, "url", req.URL)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enqueue registration"))
		return
	}
	slog.Info("Server.createRegistration: registration queued", "url", req.URL, "job_id", id)
	writeJSONResponse(w, http.StatusAccepted, models.Queued(map[string]string{"job_id": id}))
}

func (s *Server) scheduleRegistration(w http.ResponseWriter, req models.RegistrationRequest) {
	if s.sched == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Scheduling is not enabled"))
		return
	}
	if err := scheduler.Validate(req.Cron); err != nil {
		slog.Warn("Server.scheduleRegistration: invalid cron", "cron", req.Cron, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	url := req.URL
	sch, err := s.sched.AddJob(url, req.Cron, func() {
		if id, err := s.Enqueue(url, time.Time{}); err != nil {
			slog.Error("Server.scheduleRegistration: scheduled enqueue failed", "url", url, "error", err)
		} else {
			slog.Info("Server.scheduleRegistration: scheduled registration queued", "url", url, "job_id", id)
		}
	})
	if err != nil {
		slog.Error("Server.scheduleRegistration: failed to schedule", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule registration"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.ScheduledWithMessage("Scheduled successfully", sch))
}

// Enqueue adds a registration job keyed by URL, so repeated submissions share one pending job.
func (s *Server) Enqueue(url string, runAt time.Time) (string, error) {
	payload, err := json.Marshal(models.RegistrationPayload{URL: url})
	if err != nil {
		return "", err
	}
	return s.st.EnqueueJob(store.JobSpec{
		Kind:        store.JobKindRegistration,
		RunAt:       runAt,
		PayloadJSON: string(payload),
		DedupeKey:   url,
	})
}

func (s *Server) listRegistrations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	jobs, err := s.st.ListJobs(limit)
	if err != nil {
		slog.Error("Server.listRegistrations: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list registrations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(jobs))
}

// registrationHandler handles GET and DELETE /registrations/{id}.
func (s *Server) registrationHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/registrations/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Registration not found"))
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodDelete:
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		return
	}

	job, err := s.st.GetJob(id)
	if err != nil {
		slog.Error("Server.registrationHandler: get job failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch registration"))
		return
	}
	if job == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Registration not found"))
		return
	}

	if r.Method == http.MethodDelete {
		if job.Status.IsTerminal() {
			writeJSONResponse(w, http.StatusConflict, models.Error("Registration already finished"))
			return
		}
		if err := s.st.CancelJob(id); err != nil {
			slog.Error("Server.registrationHandler: cancel failed", "id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel registration"))
			return
		}
		slog.Info("Server.registrationHandler: registration canceled", "id", id)
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"job_id": id, "status": string(store.JobStatusCanceled)}))
		return
	}

	status := RegistrationStatus{Job: *job}
	if job.Result != "" {
		out, err := s.st.GetOutcome(job.Result)
		if err != nil {
			slog.Warn("Server.registrationHandler: outcome lookup failed", "id", id, "outcome", job.Result, "error", err)
		}
		status.Outcome = out
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// schedulesHandler handles GET /schedules and DELETE /schedules?url=.
func (s *Server) schedulesHandler(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Scheduling is not enabled"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.sched.Schedules()))
	case http.MethodDelete:
		url := r.URL.Query().Get("url")
		if !s.sched.Remove(url) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Schedule not found"))
			return
		}
		slog.Info("Server.schedulesHandler: schedule removed", "url", url)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// outcomesHandler handles GET /outcomes, optionally filtered by ?url=.
func (s *Server) outcomesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	outcomes, err := s.st.GetOutcomes()
	if err != nil {
		slog.Error("Server.outcomesHandler: fetch failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch outcomes"))
		return
	}
	if url := r.URL.Query().Get("url"); url != "" {
		var filtered []models.Outcome
		for _, o := range outcomes {
			if o.URL == url {
				filtered = append(filtered, o)
			}
		}
		outcomes = filtered
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	slog.Debug("Server.outcomesHandler: outcomes fetched", "count", len(outcomes))
	writeJSONResponse(w, http.StatusOK, models.Success(outcomes))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "formpipe"}))
}
