package gc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// assignMeetingRequest/Response mirror the GC->MC wire shape of spec §6.4.
type assignMeetingRequest struct {
	MeetingID            string `json:"meeting_id"`
	ParticipantsExpected int32  `json:"participants_expected"`
}

type assignMeetingResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HTTPAssignMeetingCaller implements AssignMeetingCaller by POSTing to an
// MC's /internal/mc/assign_meeting endpoint over client's signed transport.
type HTTPAssignMeetingCaller struct {
	Client *http.Client
}

func (c *HTTPAssignMeetingCaller) AssignMeeting(ctx context.Context, mc MeetingController, meetingID string, participantsExpected int32) (bool, PlacementRejectionReason, error) {
	body, err := json.Marshal(assignMeetingRequest{MeetingID: meetingID, ParticipantsExpected: participantsExpected})
	if err != nil {
		return false, "", fmt.Errorf("marshaling assign_meeting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mc.Endpoint+"/internal/mc/assign_meeting", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("building assign_meeting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, RejectionRPCFailed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, RejectionRPCFailed, fmt.Errorf("mc returned status %d", resp.StatusCode)
	}

	var out assignMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, RejectionRPCFailed, fmt.Errorf("decoding assign_meeting response: %w", err)
	}

	if !out.Accepted {
		return false, PlacementRejectionReason(out.Reason), nil
	}
	return true, "", nil
}
