package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PromptRequest is one suspending request pushed to the attached UI
// channel. Payload is the JSON-encoded method argument; the only method
// the negotiator issues today is RequestAuthorization with an
// AuthorizationPrompt payload.
type PromptRequest struct {
	ID         uuid.UUID
	Method     string
	Payload    json.RawMessage
	CreateTime time.Time
	Result     chan *PromptResponse `json:"-"`
}

// PromptResponse resolves a pending PromptRequest. A non-empty Error
// means the UI failed; a user declining is a normal payload with an
// empty approval list.
type PromptResponse struct {
	ID      uuid.UUID
	Payload json.RawMessage
	Error   string
}

// AuthorizationPrompt asks the user which candidate accounts to
// authorize for an app. Granted is shown for context only.
type AuthorizationPrompt struct {
	AppID      string
	Granted    []*Account
	Candidates []*Account
}

// ApprovalResult is the UI's answer to an AuthorizationPrompt. Entries
// outside the prompt's candidate set are discarded by the negotiator.
type ApprovalResult struct {
	Approved []AccountID
}

// UIChannelInfo describes one attached prompt UI.
type UIChannelInfo struct {
	ChannelID  uuid.UUID
	OutBound   chan *PromptRequest
	CreateTime time.Time
}

func NewUIChannelInfo(sendEvents chan *PromptRequest) *UIChannelInfo {
	return &UIChannelInfo{
		ChannelID:  uuid.New(),
		OutBound:   sendEvents,
		CreateTime: time.Now(),
	}
}
