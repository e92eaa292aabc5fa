package token

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDepartment is used when a request names no department.
const DefaultDepartment = "General"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusCleared  Status = "cleared"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCleared:
		return true
	}
	return false
}

// Center is a service location that issues tokens.
type Center struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Code        string    `json:"code" yaml:"code"`
	Type        string    `json:"type" yaml:"type"`
	Address     string    `json:"address,omitempty" yaml:"address"`
	Departments []string  `json:"departments" yaml:"departments"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Token is one booking. The Center* fields are copied when the token is
// created and are never updated afterwards.
type Token struct {
	ID          uuid.UUID  `json:"id"`
	CenterID    string     `json:"centerId"`
	CenterName  string     `json:"centerName"`
	CenterCode  string     `json:"centerCode"`
	CenterType  string     `json:"centerType"`
	Department  string     `json:"department"`
	TokenNumber int        `json:"tokenNumber"`
	UserName    string     `json:"userName"`
	UserPhone   string     `json:"userPhone"`
	Purpose     string     `json:"purpose"`
	CreatedBy   *string    `json:"createdBy"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
}

// Scope is the key a token number is unique within.
type Scope struct {
	CenterID   string
	Department string
}

func (t Token) Scope() Scope {
	return Scope{CenterID: t.CenterID, Department: t.Department}
}

func (s Scope) LockKey() string {
	return "scope:" + s.CenterID + ":" + s.Department
}

// Draft is the caller supplied part of a new token.
type Draft struct {
	CenterID   string  `json:"centerId" validate:"required,max=64"`
	Department string  `json:"department" validate:"required,max=64"`
	Name       string  `json:"name" validate:"required,max=120"`
	Phone      string  `json:"phone" validate:"required,max=32"`
	Purpose    string  `json:"purpose" validate:"required,max=500"`
	CreatedBy  *string `json:"createdBy,omitempty" validate:"omitempty,max=254"`
	QRCode     string  `json:"qrCode,omitempty" validate:"omitempty,max=64"`
}

// NewToken is what a repository persists. ID, status and timestamps are
// assigned by the service, the token number by the repository.
type NewToken struct {
	ID        uuid.UUID
	Center    Center
	Draft     Draft
	CreatedAt time.Time
}

// Filter selects tokens. Zero fields match everything.
type Filter struct {
	CenterID    string
	Department  string
	Status      Status
	CreatedBy   string
	NewestFirst bool
	Limit       int
}

type QRCode struct {
	Code      string    `json:"code"`
	CenterID  string    `json:"centerId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type EventLog struct {
	ID        int64
	EventType string
	TokenID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// QueueStats summarizes the pending queue of one center.
type QueueStats struct {
	CenterID                 string         `json:"centerId"`
	PendingCountByDepartment map[string]int `json:"pendingCountByDepartment"`
	TotalPending             int            `json:"totalPending"`
}

// Progress is a token together with where it stands in its queue.
type Progress struct {
	Token      Token `json:"token"`
	Position   int   `json:"position"`
	ETAMinutes int   `json:"etaMinutes"`
}
