package gc

import (
	"context"
	"testing"
	"time"
)

// fakeMeetingStore is an in-memory MeetingStore for MeetingService tests.
type fakeMeetingStore struct {
	byCode map[string]Meeting
}

func newFakeMeetingStore() *fakeMeetingStore {
	return &fakeMeetingStore{byCode: make(map[string]Meeting)}
}

func (f *fakeMeetingStore) Create(_ context.Context, m Meeting) error {
	f.byCode[m.Code] = m
	return nil
}

func (f *fakeMeetingStore) ByCode(_ context.Context, code string) (Meeting, error) {
	m, ok := f.byCode[code]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}

// fakeTokenIssuer implements TokenIssuer without a network call.
type fakeTokenIssuer struct{}

func (f *fakeTokenIssuer) IssueMeetingToken(_ context.Context, subject string, _ []string) (string, int, error) {
	return "jwt-for-" + subject, 3600, nil
}

func TestCreateMeetingGeneratesDashedCode(t *testing.T) {
	meetings := newFakeMeetingStore()
	svc := NewMeetingService(meetings, nil, nil, nil, &fakeTokenIssuer{}, "us-east-1", noopLogger())

	code, err := svc.CreateMeeting(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if len(code) != 9 || code[4] != '-' {
		t.Fatalf("meeting code %q does not match the expected XXXX-XXXX shape", code)
	}

	stored, err := meetings.ByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("ByCode: %v", err)
	}
	if stored.Region != "us-east-1" {
		t.Fatalf("region = %q, want default us-east-1", stored.Region)
	}
}

func TestJoinMeetingReturnsUnknownCodeForMissingMeeting(t *testing.T) {
	meetings := newFakeMeetingStore()
	svc := NewMeetingService(meetings, nil, nil, nil, &fakeTokenIssuer{}, "us-east-1", noopLogger())

	result, err := svc.Join(context.Background(), "ZZZZ-ZZZZ", "user-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Reason != JoinReasonUnknownCode {
		t.Fatalf("reason = %q, want %q", result.Reason, JoinReasonUnknownCode)
	}
}

func TestJoinMeetingPlacesAndIssuesToken(t *testing.T) {
	meetings := newFakeMeetingStore()
	meetings.byCode["AAAA-BBBB"] = Meeting{ID: "meeting-1", Code: "AAAA-BBBB", Region: "us-east-1", CreatedAt: time.Now()}

	mcStore := newFakeMCStore()
	mcStore.byID["mc-1"] = MeetingController{ID: "mc-1", Region: "us-east-1", Endpoint: "https://mc-1", HealthStatus: HealthHealthy, MaxMeetings: 10, LastHeartbeatAt: time.Now()}

	mhStore := &fakeMHStore{all: []MediaHandler{
		{ID: "mh-1", Region: "us-east-1", Endpoint: "https://mh-1", HealthStatus: HealthHealthy, Capacity: 100, LoadScore: 10},
	}}

	assignments := newFakeAssignmentStore()
	placement := NewPlacementEngine(assignments, mcStore, NewMHRegistry(mhStore), &acceptingCaller{}, nil, noopLogger())

	svc := NewMeetingService(meetings, placement, mcStore, mhStore, &fakeTokenIssuer{}, "us-east-1", noopLogger())

	result, err := svc.Join(context.Background(), "AAAA-BBBB", "user-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Reason != "" {
		t.Fatalf("unexpected failure reason %q", result.Reason)
	}
	if result.MCWebTransportEndpoint != "https://mc-1" {
		t.Fatalf("endpoint = %q, want https://mc-1", result.MCWebTransportEndpoint)
	}
	if result.MeetingToken != "jwt-for-user-1" {
		t.Fatalf("meeting token = %q, want jwt-for-user-1", result.MeetingToken)
	}
	if result.PrimaryMH != "https://mh-1" {
		t.Fatalf("primary mh = %q, want https://mh-1", result.PrimaryMH)
	}
}

func TestJoinMeetingReturnsNoneAvailableWhenPlacementFails(t *testing.T) {
	meetings := newFakeMeetingStore()
	meetings.byCode["AAAA-BBBB"] = Meeting{ID: "meeting-1", Code: "AAAA-BBBB", Region: "us-east-1", CreatedAt: time.Now()}

	mcStore := newFakeMCStore()
	assignments := newFakeAssignmentStore()
	placement := NewPlacementEngine(assignments, mcStore, nil, &acceptingCaller{}, nil, noopLogger())

	svc := NewMeetingService(meetings, placement, mcStore, &fakeMHStore{}, &fakeTokenIssuer{}, "us-east-1", noopLogger())

	result, err := svc.Join(context.Background(), "AAAA-BBBB", "user-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Reason != JoinReasonNoneAvailable {
		t.Fatalf("reason = %q, want %q", result.Reason, JoinReasonNoneAvailable)
	}
}
