package queue

import (
	"encoding/json"
	"time"

	"vaultflow/operation"
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusExecuted        Status = "EXECUTED"
	StatusExecutionFailed Status = "EXECUTION_FAILED"
)

// Actor identifies the staff member proposing or deciding an operation.
type Actor struct {
	ID     string
	Name   string
	Role   string
	Branch string
}

// Entry is one proposed operation awaiting or having received a decision.
// Amount and Payload are frozen at creation; a decision only changes the
// entry's disposition. Entries are retained indefinitely for audit.
type Entry struct {
	ID           string
	Type         operation.Type
	ReferenceID  string
	Maker        Actor
	Amount       *int64
	Payload      json.RawMessage
	Status       Status
	Priority     operation.Priority
	PolicyReason string
	CreatedAt    time.Time

	DecidedAt       *time.Time
	Decider         *string
	RejectionReason *string

	ExecutedAt    *time.Time
	Result        json.RawMessage
	FailureReason *string
}

// Terminal reports whether no further transition is possible for the entry.
func (e Entry) Terminal() bool {
	switch e.Status {
	case StatusRejected, StatusExecuted, StatusExecutionFailed:
		return true
	default:
		return false
	}
}

// Filters narrows supervisor review listings.
type Filters struct {
	Status   Status
	Type     operation.Type
	Branch   string
	Priority operation.Priority
	Page     int
	PageSize int
}
