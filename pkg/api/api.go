// Package api exposes the scheduler's task control surface over HTTP: a
// thin, lock-guarded adapter consumed by schedctl (spec §4.4, §6
// EXPANSION).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"taskscheduler/pkg/sched"
)

var errInvalidTaskID = errors.New("invalid task id")

// Controller is the subset of *sched.Scheduler the HTTP surface needs.
// Declaring it narrowly keeps this package testable without constructing a
// real Scheduler.
type Controller interface {
	Snapshot() []sched.TaskInfo
	SetEnabled(id sched.TaskID, on bool)
	Reschedule(id sched.TaskID, newPeriodUs uint64)
	SystemLoadPercent() float64
}

// API wraps a Controller behind a mutex, since the scheduler itself is not
// safe for concurrent use (spec §5): every handler serializes against the
// same lock the tick loop uses.
type API struct {
	mu         *sync.Mutex
	controller Controller
	runID      string
}

// New constructs an API. mu must be the same mutex the caller uses to
// guard Scheduler.Tick, so HTTP requests never race a tick in flight.
// runID is echoed on every /status response so operators can correlate a
// control-plane call with the daemon's log lines across restarts.
func New(mu *sync.Mutex, controller Controller, runID string) *API {
	return &API{mu: mu, controller: controller, runID: runID}
}

// Router builds the chi route tree: GET /status, GET /tasks, POST
// /tasks/{id}/enable, POST /tasks/{id}/disable, POST
// /tasks/{id}/reschedule.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", a.handleStatus)
	r.Get("/tasks", a.handleTasks)
	r.Post("/tasks/{id}/enable", a.handleSetEnabled(true))
	r.Post("/tasks/{id}/disable", a.handleSetEnabled(false))
	r.Post("/tasks/{id}/reschedule", a.handleReschedule)

	return r
}

// statusResponse is the payload for GET /status.
type statusResponse struct {
	RunID             string  `json:"runId"`
	SystemLoadPercent float64 `json:"systemLoadPercent"`
	TaskCount         int     `json:"taskCount"`
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.controller.Snapshot()

	writeJSON(w, http.StatusOK, statusResponse{
		RunID:             a.runID,
		SystemLoadPercent: a.controller.SystemLoadPercent(),
		TaskCount:         len(snapshot),
	})
}

// taskResponse mirrors sched.TaskInfo plus its index-derived id, since the
// control surface addresses tasks by id (spec §6).
type taskResponse struct {
	ID                       int     `json:"id"`
	Name                     string  `json:"name"`
	Enabled                  bool    `json:"enabled"`
	DesiredPeriodUs          uint64  `json:"desiredPeriodUs"`
	StaticPriority           int     `json:"staticPriority"`
	AverageExecutionTimeUs   float64 `json:"averageExecutionTimeUs"`
	MaxExecutionTimeUs       int64   `json:"maxExecutionTimeUs"`
	TotalExecutionTimeUs     int64   `json:"totalExecutionTimeUs"`
	AverageDeltaTimeUs       float64 `json:"averageDeltaTimeUs"`
	MovingAverageCycleTimeUs float64 `json:"movingAverageCycleTimeUs"`
}

func (a *API) handleTasks(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	snapshot := a.controller.Snapshot()
	a.mu.Unlock()

	out := make([]taskResponse, len(snapshot))
	for i, info := range snapshot {
		out[i] = taskResponse{
			ID:                       i,
			Name:                     info.Name,
			Enabled:                  info.Enabled,
			DesiredPeriodUs:          info.DesiredPeriodUs,
			StaticPriority:           int(info.StaticPriority),
			AverageExecutionTimeUs:   info.AverageExecutionTimeUs,
			MaxExecutionTimeUs:       info.MaxExecutionTimeUs,
			TotalExecutionTimeUs:     info.TotalExecutionTimeUs,
			AverageDeltaTimeUs:       info.AverageDeltaTimeUs,
			MovingAverageCycleTimeUs: info.MovingAverageCycleTimeUs,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSetEnabled(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseTaskID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		a.mu.Lock()
		a.controller.SetEnabled(id, on)
		a.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}
}

// rescheduleRequest is the POST body for /tasks/{id}/reschedule.
type rescheduleRequest struct {
	PeriodUs uint64 `json:"periodUs"`
}

func (a *API) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	var body rescheduleRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "decode reschedule body: "+err.Error(), http.StatusBadRequest)

		return
	}

	a.mu.Lock()
	a.controller.Reschedule(id, body.PeriodUs)
	a.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func parseTaskID(r *http.Request) (sched.TaskID, error) {
	raw := chi.URLParam(r, "id")

	n, err := strconv.Atoi(raw)
	if err != nil {
		return sched.TaskNone, errInvalidTaskID
	}

	return sched.TaskID(n), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
