package mc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GCClient implements MC's outbound half of spec §6.3: registration and
// the dual heartbeat cadence, sent over the signed HTTP/JSON transport
// (internal/svcauth.SignedTransport) to GC's /internal/gc surface.
type GCClient struct {
	BaseURL string
	Client  *http.Client
}

// NewGCClient constructs a GCClient.
func NewGCClient(baseURL string, client *http.Client) *GCClient {
	return &GCClient{BaseURL: baseURL, Client: client}
}

type registerMCRequest struct {
	ID              string `json:"id"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	MaxMeetings     int64  `json:"max_meetings"`
	MaxParticipants int64  `json:"max_participants"`
}

type registerMCResponse struct {
	Accepted                bool `json:"accepted"`
	FastIntervalMS          int  `json:"fast_heartbeat_interval_ms"`
	ComprehensiveIntervalMS int  `json:"comprehensive_heartbeat_interval_ms"`
}

// RegisterMC registers id/region/endpoint with GC, returning the heartbeat
// cadences GC assigned.
func (c *GCClient) RegisterMC(ctx context.Context, id, region, endpoint string, maxMeetings, maxParticipants int64) (fastIntervalMS, comprehensiveIntervalMS int, err error) {
	var resp registerMCResponse
	if err := c.post(ctx, "/internal/gc/register_mc", registerMCRequest{
		ID: id, Region: region, Endpoint: endpoint, MaxMeetings: maxMeetings, MaxParticipants: maxParticipants,
	}, &resp); err != nil {
		return 0, 0, err
	}
	return resp.FastIntervalMS, resp.ComprehensiveIntervalMS, nil
}

type fastHeartbeatRequest struct {
	ID              string  `json:"id"`
	CurrentMeetings int64   `json:"current_meetings"`
	LoadScore       float64 `json:"load_score"`
}

// FastHeartbeat sends the 10 s capacity-delta heartbeat.
func (c *GCClient) FastHeartbeat(ctx context.Context, id string, currentMeetings int64, loadScore float64) error {
	return c.post(ctx, "/internal/gc/fast_heartbeat", fastHeartbeatRequest{
		ID: id, CurrentMeetings: currentMeetings, LoadScore: loadScore,
	}, nil)
}

type comprehensiveHeartbeatRequest struct {
	ID                  string  `json:"id"`
	HealthStatus        string  `json:"health_status"`
	CurrentMeetings     int64   `json:"current_meetings"`
	MaxMeetings         int64   `json:"max_meetings"`
	CurrentParticipants int64   `json:"current_participants"`
	MaxParticipants     int64   `json:"max_participants"`
	LoadScore           float64 `json:"load_score"`
}

// ComprehensiveHeartbeat sends the 30 s full-metrics heartbeat.
func (c *GCClient) ComprehensiveHeartbeat(ctx context.Context, id, healthStatus string, currentMeetings, maxMeetings, currentParticipants, maxParticipants int64, loadScore float64) error {
	return c.post(ctx, "/internal/gc/comprehensive_heartbeat", comprehensiveHeartbeatRequest{
		ID: id, HealthStatus: healthStatus, CurrentMeetings: currentMeetings, MaxMeetings: maxMeetings,
		CurrentParticipants: currentParticipants, MaxParticipants: maxParticipants, LoadScore: loadScore,
	}, nil)
}

func (c *GCClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("calling gc %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gc %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gc %s response: %w", path, err)
	}
	return nil
}
