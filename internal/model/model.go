// Package model содержит доменные сущности учёта эскобаров.
package model

import "time"

// Member представляет участника сообщества и его баланс.
type Member struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Balance   int64     `json:"balance"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// LogKind описывает тип записи журнала баланса.
type LogKind string

const (
	LogKindInit   LogKind = "init"
	LogKindAdd    LogKind = "add"
	LogKindDeduct LogKind = "deduct"
	LogKindSpend  LogKind = "spend"
)

// Sign возвращает знак, с которым запись данного типа входит в баланс.
func (k LogKind) Sign() int64 {
	switch k {
	case LogKindDeduct, LogKindSpend:
		return -1
	default:
		return 1
	}
}

// LogEntry описывает неизменяемую запись журнала изменения баланса участника.
type LogEntry struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	Kind      LogKind   `json:"kind"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	OfficerID string    `json:"officer_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Signed возвращает сумму записи со знаком.
func (e LogEntry) Signed() int64 {
	return e.Kind.Sign() * e.Amount
}

// RequestStatus описывает статус заявки на трату.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Decision описывает решение офицера по заявке.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// SpendRequest описывает заявку участника на списание эскобаров.
type SpendRequest struct {
	ID          string        `json:"id"`
	MemberID    string        `json:"member_id"`
	Handle      string        `json:"handle"`
	Amount      int64         `json:"amount"`
	Reason      string        `json:"reason"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	HandledAt   *time.Time    `json:"handled_at,omitempty"`
	HandledBy   string        `json:"handled_by,omitempty"`
	OfficerNote string        `json:"officer_note,omitempty"`
}

// Officer описывает запись в реестре офицеров.
type Officer struct {
	MemberID string `json:"member_id"`
	Enabled  bool   `json:"enabled"`
}

// OfficerSession содержит выданный офицеру токен доступа.
type OfficerSession struct {
	MemberID  string    `json:"member_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Announcement описывает объявление, опубликованное офицером.
type Announcement struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	OfficerID string    `json:"officer_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential связывает каноничный логин с хешем пароля и идентификатором участника.
type Credential struct {
	MemberID     string
	Handle       string
	Canonical    string
	PasswordHash []byte
	CreatedAt    time.Time
}

// LedgerTotals содержит баланс участника и сумму его журнала для сверки.
type LedgerTotals struct {
	MemberID string
	Handle   string
	Balance  int64
	LogSum   int64
}
