/*
dto.go - Request/response shapes for the HTTP surface

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO / *Response: types returned to clients

Campaign prices are serialized as decimal strings to avoid float drift
on the wire. Validation happens in handlers; DTOs are pure carriers.
*/
package api

import "time"

// ErrorResponse is the uniform error shape: {"error": "..."}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// ACCOUNTS / LEDGER
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	Points    int64  `json:"points"`
	Level     string `json:"level"`
	Role      string `json:"role"`
	InvitedBy string `json:"invitedBy,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type EntryDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Remark    string `json:"remark"`
	CreatedAt string `json:"createdAt"`
}

type RegisterResponse struct {
	Points int64 `json:"points"`
}

// =============================================================================
// REFERRALS
// =============================================================================

type ReferralRequest struct {
	InviteeID string `json:"inviteeId"`
}

type ReferralResponse struct {
	InviterReward int64 `json:"inviterReward"`
	InviteeReward int64 `json:"inviteeReward"`
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

type SlashStartRequest struct {
	Amount float64 `json:"amount"`
}

type SlashStartResponse struct {
	CampaignID    string `json:"campaignId"`
	OriginalPrice string `json:"originalPrice"`
	TargetPrice   string `json:"targetPrice"`
	ShareLink     string `json:"shareLink,omitempty"`
}

type SlashHelpRequest struct {
	CampaignID string `json:"campaignId"`
}

type SlashHelpResponse struct {
	CampaignID   string `json:"campaignId"`
	Scenario     string `json:"scenario"`
	CutAmount    string `json:"cutAmount"`
	NewPrice     string `json:"newPrice"`
	HelperPoints int64  `json:"helperPoints"`
}

// =============================================================================
// ADMIN / CONSUMPTION
// =============================================================================

type RewardPointsRequest struct {
	UID    string `json:"uid"`
	Amount int64  `json:"amount"`
}

type RewardPointsResponse struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"newBalance"`
}

type ConsumeRequest struct {
	Feature string `json:"feature"`
}

type ConsumeResponse struct {
	Points int64 `json:"points"`
}

// =============================================================================
// PAYMENT WEBHOOK
// =============================================================================

// PaymentEvent mirrors the payment processor's webhook envelope. Points
// arrive as a string because checkout metadata values are strings.
type PaymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Metadata struct {
				UID    string `json:"uid"`
				Points string `json:"points"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
