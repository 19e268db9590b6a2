package gc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ACClient implements TokenIssuer by calling AC's internal token-mint
// surface over a signed HTTP client (svcauth.NewHTTPClient), propagating
// GC's own service identity as the bearer/signing credential.
type ACClient struct {
	BaseURL string
	Client  *http.Client
}

// NewACClient constructs an ACClient.
func NewACClient(baseURL string, client *http.Client) *ACClient {
	return &ACClient{BaseURL: baseURL, Client: client}
}

type issueMeetingTokenRequest struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

type issueMeetingTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *ACClient) IssueMeetingToken(ctx context.Context, subject string, scopes []string) (string, int, error) {
	body, err := json.Marshal(issueMeetingTokenRequest{Subject: subject, Scopes: scopes})
	if err != nil {
		return "", 0, fmt.Errorf("marshaling issue_meeting_token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/internal/tokens/meeting", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("building issue_meeting_token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("calling ac: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ac returned status %d", resp.StatusCode)
	}

	var out issueMeetingTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decoding issue_meeting_token response: %w", err)
	}
	return out.AccessToken, out.ExpiresIn, nil
}
