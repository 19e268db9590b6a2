package gc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func noAuthRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	noopScoped := func(string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	svc.Mount(r, noopScoped, func(next http.Handler) http.Handler { return next })
	return r
}

func newTestService(t *testing.T) (*Service, *fakeMCStore, *fakeMeetingStore) {
	t.Helper()
	mcStore := newFakeMCStore()
	mhStore := &fakeMHStore{}
	assignments := newFakeAssignmentStore()
	meetingStore := newFakeMeetingStore()

	registry := NewRegistry(mcStore, noopLogger())
	placement := NewPlacementEngine(assignments, mcStore, NewMHRegistry(mhStore), &acceptingCaller{}, nil, noopLogger())
	meetings := NewMeetingService(meetingStore, placement, mcStore, mhStore, &fakeTokenIssuer{}, "us-east-1", noopLogger())

	svc := NewService(registry, placement, meetings, noopLogger())
	return svc, mcStore, meetingStore
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleCreateMeetingReturnsCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := noAuthRouter(svc)

	req := jsonRequest(http.MethodPost, "/api/v1/meetings/", map[string]string{"region": "us-east-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp createMeetingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.MeetingCode == "" {
		t.Fatal("expected a non-empty meeting code")
	}
}

func TestHandleJoinMeetingReturns404ForUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := noAuthRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/ZZZZ-ZZZZ/join", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleJoinMeetingReturns503WhenNoControllersAvailable(t *testing.T) {
	svc, _, meetings := newTestService(t)
	meetings.byCode["AAAA-BBBB"] = Meeting{ID: "meeting-1", Code: "AAAA-BBBB", Region: "us-east-1", CreatedAt: time.Now()}
	router := noAuthRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/AAAA-BBBB/join", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegisterMCValidatesBody(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := noAuthRouter(svc)

	req := jsonRequest(http.MethodPost, "/internal/gc/register_mc", map[string]any{
		"id": "mc-1", "region": "us-east-1", "endpoint": "https://mc-1", "max_meetings": 100, "max_participants": 1000,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegisterMCRejectsMissingFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := noAuthRouter(svc)

	req := jsonRequest(http.MethodPost, "/internal/gc/register_mc", map[string]any{"id": "mc-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleFastHeartbeatReturns404ForUnknownMC(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := noAuthRouter(svc)

	req := jsonRequest(http.MethodPost, "/internal/gc/fast_heartbeat", map[string]any{"id": "mc-unknown", "current_meetings": 1, "load_score": 0.1})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleComprehensiveHeartbeatUpdatesHealthStatus(t *testing.T) {
	svc, mcStore, _ := newTestService(t)
	mcStore.byID["mc-1"] = MeetingController{ID: "mc-1", Region: "us-east-1", HealthStatus: HealthPending, MaxMeetings: 10, LastHeartbeatAt: time.Now()}
	router := noAuthRouter(svc)

	req := jsonRequest(http.MethodPost, "/internal/gc/comprehensive_heartbeat", map[string]any{
		"id": "mc-1", "health_status": "healthy", "current_meetings": 2, "max_meetings": 10,
		"current_participants": 5, "max_participants": 100, "load_score": 0.2,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	mc, err := mcStore.ByID(req.Context(), "mc-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if mc.HealthStatus != HealthHealthy {
		t.Fatalf("health status = %q, want healthy", mc.HealthStatus)
	}
}
