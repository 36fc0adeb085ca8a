package model

import "time"

// EventType описывает тип события журнала.
type EventType string

const (
	EventMemberCreated      EventType = "member.created"
	EventBalanceAdjusted    EventType = "balance.adjusted"
	EventRequestSubmitted   EventType = "request.submitted"
	EventRequestApproved    EventType = "request.approved"
	EventRequestRejected    EventType = "request.rejected"
	EventMemberToggled      EventType = "member.toggled"
	EventAnnouncementPosted EventType = "announcement.posted"
)

// LedgerEvent публикуется после фиксации каждой мутации.
type LedgerEvent struct {
	Type       EventType `json:"type"`
	MemberID   string    `json:"member_id,omitempty"`
	OfficerID  string    `json:"officer_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Delta      int64     `json:"delta,omitempty"`
	Balance    int64     `json:"balance"`
	OccurredAt time.Time `json:"occurred_at"`
}
