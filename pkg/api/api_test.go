package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"taskscheduler/pkg/sched"
)

type fakeController struct {
	mu       sync.Mutex
	tasks    []sched.TaskInfo
	loadPct  float64
	enabled  map[sched.TaskID]bool
	rescheds map[sched.TaskID]uint64
}

func newFakeController() *fakeController {
	return &fakeController{
		tasks: []sched.TaskInfo{
			{Name: "a", Enabled: true, DesiredPeriodUs: 1000},
			{Name: "b", Enabled: false, DesiredPeriodUs: 2000},
		},
		loadPct:  12.5,
		enabled:  make(map[sched.TaskID]bool),
		rescheds: make(map[sched.TaskID]uint64),
	}
}

func (f *fakeController) Snapshot() []sched.TaskInfo { return f.tasks }

func (f *fakeController) SetEnabled(id sched.TaskID, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.enabled[id] = on
}

func (f *fakeController) Reschedule(id sched.TaskID, newPeriodUs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rescheds[id] = newPeriodUs
}

func (f *fakeController) SystemLoadPercent() float64 { return f.loadPct }

func newTestAPI() (*API, *fakeController) {
	ctrl := newFakeController()
	var mu sync.Mutex

	return New(&mu, ctrl, "test-run-id"), ctrl
}

func TestHandleStatusReportsLoadAndCount(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"taskCount":2`) {
		t.Fatalf("expected taskCount 2 in body, got %s", body)
	}

	if !strings.Contains(body, `"systemLoadPercent":12.5`) {
		t.Fatalf("expected systemLoadPercent 12.5 in body, got %s", body)
	}
}

func TestHandleTasksListsAllTasksWithIDs(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `"id":0`) || !strings.Contains(body, `"id":1`) {
		t.Fatalf("expected both task ids in body, got %s", body)
	}
}

func TestHandleSetEnabledEnablesAndDisablesByID(t *testing.T) {
	t.Parallel()

	a, ctrl := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/tasks/1/enable", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if !ctrl.enabled[1] {
		t.Fatal("expected task 1 to be enabled")
	}

	req = httptest.NewRequest(http.MethodPost, "/tasks/1/disable", nil)
	rec = httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if ctrl.enabled[1] {
		t.Fatal("expected task 1 to be disabled")
	}
}

func TestHandleSetEnabledRejectsNonNumericID(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/tasks/not-a-number/enable", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRescheduleDecodesBodyAndCallsController(t *testing.T) {
	t.Parallel()

	a, ctrl := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/tasks/0/reschedule", strings.NewReader(`{"periodUs": 5000}`))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if ctrl.rescheds[0] != 5000 {
		t.Fatalf("expected reschedule period 5000, got %d", ctrl.rescheds[0])
	}
}

func TestHandleRescheduleRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/tasks/0/reschedule", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
