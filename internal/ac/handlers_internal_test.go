package ac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func callerTokenFor(t *testing.T, svc *Service) string {
	t.Helper()
	jws, _, err := svc.issueToken("gc-1", []string{"token:mint"}, nil)
	if err != nil {
		t.Fatalf("issuing caller token: %v", err)
	}
	return jws
}

func TestIssueMeetingTokenRequiresBearerToken(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/internal/tokens/meeting", strings.NewReader(`{"subject":"user-1","scopes":["meeting:join"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}
}

func TestIssueMeetingTokenIssuesScopedJWT(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)
	callerToken := callerTokenFor(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/internal/tokens/meeting", strings.NewReader(`{"subject":"user-1","scopes":["meeting:join"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+callerToken)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp issueTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}
}

func TestIssueGuestTokenRejectsMissingScopes(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)
	callerToken := callerTokenFor(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/internal/tokens/guest", strings.NewReader(`{"subject":"guest-1","scopes":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+callerToken)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty scopes, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIssueMeetingTokenRejectsGarbageBearerToken(t *testing.T) {
	svc, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/internal/tokens/meeting", strings.NewReader(`{"subject":"user-1","scopes":["meeting:join"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage bearer token, got %d", rec.Code)
	}
}
