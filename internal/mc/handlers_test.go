package mc

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	dtcrypto "github.com/darktower/control-plane/internal/crypto"
	"github.com/darktower/control-plane/internal/svcauth"
)

const testIssuer = "dark-tower-ac"

// fakeKeyResolver serves a single Ed25519 public key for every kid, so
// tests can verify tokens signed by a throwaway key pair without a live
// JWKS endpoint.
type fakeKeyResolver struct {
	pub ed25519.PublicKey
}

func (r fakeKeyResolver) PublicKey(string) (ed25519.PublicKey, bool) {
	return r.pub, true
}

// testBearerToken signs every token with the same fixed-seed key pair, so
// tokens minted for different subjects verify against one fakeKeyResolver.
func testBearerToken(t *testing.T, subject string, scopes []string) (string, fakeKeyResolver) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(bytes.NewReader(bytes.Repeat([]byte{0x42}, ed25519.SeedSize)))
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}

	now := time.Now()
	claims := dtcrypto.Claims{
		Issuer:   testIssuer,
		Audience: testIssuer,
		Subject:  subject,
		Scopes:   scopes,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(5 * time.Minute).Unix(),
	}
	token, err := dtcrypto.SignJWT(claims, priv, "test-key-1")
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token, fakeKeyResolver{pub: pub}
}

func testRouter(t *testing.T, svc *Service, resolver dtcrypto.KeyResolver) chi.Router {
	t.Helper()
	policy := svcauth.DefaultPolicy(testIssuer, time.Minute, time.Hour)
	requireToken := func(scope string) func(http.Handler) http.Handler {
		return svcauth.RequireBearerToken(resolver, policy, scope)
	}
	r := chi.NewRouter()
	svc.Mount(r, requireToken, func(next http.Handler) http.Handler { return next })
	return r
}

func jsonRequestWithAuth(method, path, token string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHandleJoinReturns404ForUnassignedMeeting(t *testing.T) {
	controller, cancel := newTestController(t)
	defer cancel()
	svc := NewService(controller, 10, noopLogger())

	token, resolver := testBearerToken(t, "participant-1", []string{"meeting:join"})
	router := testRouter(t, svc, resolver)

	req := jsonRequestWithAuth(http.MethodPost, "/api/v1/sessions/meeting-1/join", token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleJoinReturnsCorrelationIDAndToken(t *testing.T) {
	controller, cancel := newTestController(t)
	defer cancel()
	if _, err := controller.CreateMeeting(context.Background(), "meeting-1"); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}

	svc := NewService(controller, 10, noopLogger())
	token, resolver := testBearerToken(t, "participant-1", []string{"meeting:join"})
	router := testRouter(t, svc, resolver)

	req := jsonRequestWithAuth(http.MethodPost, "/api/v1/sessions/meeting-1/join", token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp joinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.CorrelationID == "" || resp.Token == "" {
		t.Fatal("expected non-empty correlation id and token")
	}
}

func TestHandleJoinRejectsMissingBearerToken(t *testing.T) {
	controller, cancel := newTestController(t)
	defer cancel()
	if _, err := controller.CreateMeeting(context.Background(), "meeting-1"); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}

	svc := NewService(controller, 10, noopLogger())
	_, resolver := testBearerToken(t, "participant-1", []string{"meeting:join"})
	router := testRouter(t, svc, resolver)

	req := jsonRequestWithAuth(http.MethodPost, "/api/v1/sessions/meeting-1/join", "", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleHostMuteRejectsNonHostCaller(t *testing.T) {
	controller, cancel := newTestController(t)
	defer cancel()
	if _, err := controller.CreateMeeting(context.Background(), "meeting-1"); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}

	svc := NewService(controller, 10, noopLogger())
	hostToken, resolver := testBearerToken(t, "host-1", []string{"meeting:join", "meeting:host"})
	participantToken, _ := testBearerToken(t, "participant-2", []string{"meeting:join"})
	router := testRouter(t, svc, resolver)

	// Both participants join first so the actor has them on record.
	for _, tok := range []string{hostToken, participantToken} {
		req := jsonRequestWithAuth(http.MethodPost, "/api/v1/sessions/meeting-1/join", tok, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("join status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}

	req := jsonRequestWithAuth(http.MethodPost, "/api/v1/sessions/meeting-1/host/mute", participantToken, map[string]string{"target_participant_id": "host-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAssignMeetingRejectsAtCapacity(t *testing.T) {
	controller, cancel := newTestController(t)
	defer cancel()
	if _, err := controller.CreateMeeting(context.Background(), "meeting-1"); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}

	svc := NewService(controller, 1, noopLogger())
	token, resolver := testBearerToken(t, "gc-service", []string{"mc:assign"})
	router := testRouter(t, svc, resolver)

	req := jsonRequestWithAuth(http.MethodPost, "/internal/mc/assign_meeting", token, map[string]any{
		"meeting_id": "meeting-2", "participants_expected": 0,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp assignMeetingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Accepted {
		t.Fatal("expected assignment to be rejected at capacity")
	}
	if resp.Reason != "at_capacity" {
		t.Fatalf("reason = %q, want at_capacity", resp.Reason)
	}
}
