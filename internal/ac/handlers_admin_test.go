package ac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	svc.Mount(r)
	return r
}

func adminRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-admin-token")
	return req
}

func TestHandleRegisterClientRequiresAdminToken(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/admin/clients", strings.NewReader(`{"name":"gc-1","scopes":["mc:register"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}
}

func TestHandleRegisterClientIssuesOneTimeSecret(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := adminRequest(http.MethodPost, "/admin/clients", []byte(`{"name":"gc-1","scopes":["mc:register"]}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerClientResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ClientID == "" || resp.ClientSecret == "" {
		t.Fatalf("expected non-empty client_id and client_secret, got %+v", resp)
	}
}

func TestHandleRotateClientSecretReplacesHash(t *testing.T) {
	svc, clients := newTestService(t)
	router := newTestRouter(svc)
	registerTestClient(t, svc, clients, "gc-1", "original-secret", []string{"mc:register"})

	req := adminRequest(http.MethodPost, "/admin/clients/gc-1/rotate", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerClientResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ClientSecret == "original-secret" {
		t.Fatal("expected a freshly generated secret")
	}

	updated, err := clients.ByID(context.Background(), "gc-1")
	if err != nil {
		t.Fatalf("looking up rotated client: %v", err)
	}
	if updated.ClientSecretHash == "" {
		t.Fatal("expected updated secret hash to be persisted")
	}
}

func TestHandleRotateClientSecretReturnsNotFoundForUnknownClient(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := adminRequest(http.MethodPost, "/admin/clients/missing/rotate", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDisableClientSetsDisabledAt(t *testing.T) {
	svc, clients := newTestService(t)
	router := newTestRouter(svc)
	registerTestClient(t, svc, clients, "gc-1", "s3cret", []string{"mc:register"})

	req := adminRequest(http.MethodPost, "/admin/clients/gc-1/disable", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := clients.ByID(context.Background(), "gc-1")
	if err != nil {
		t.Fatalf("looking up disabled client: %v", err)
	}
	if updated.DisabledAt == nil {
		t.Fatal("expected disabled_at to be set")
	}
}

func TestHandleDisableClientReturnsNotFoundForUnknownClient(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := adminRequest(http.MethodPost, "/admin/clients/missing/disable", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDeleteClientRemovesClient(t *testing.T) {
	svc, clients := newTestService(t)
	router := newTestRouter(svc)
	registerTestClient(t, svc, clients, "gc-1", "s3cret", []string{"mc:register"})

	req := adminRequest(http.MethodDelete, "/admin/clients/gc-1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := clients.ByID(context.Background(), "gc-1"); err != ErrNotFound {
		t.Fatalf("expected client to be deleted, got err=%v", err)
	}
}
