// Package models defines the payroll domain entities: workers, payment
// requests, and the approval/execution state machine they move through.
package models

import (
	"fmt"
	"time"

	id "payguard/pkg/domain"
)

// Frequency is how often a worker is paid.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiWeekly Frequency = "bi-weekly"
	FrequencyMonthly  Frequency = "monthly"
)

// IsValid reports whether f is a known payment frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Advance returns due moved forward by one frequency period.
func (f Frequency) Advance(due time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return due.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return due.AddDate(0, 0, 14)
	default:
		return due.AddDate(0, 1, 0)
	}
}

// Worker is the read-mostly view of a worker directory record. The engine
// only writes NextDueDate, and only on successful payment.
type Worker struct {
	ID          id.WorkerID
	Name        string
	Destination string // opaque transfer-recipient token resolved by the gateway
	Amount      int64  // salary in minor currency units
	Frequency   Frequency
	NextDueDate time.Time
	Active      bool
}

// Status is the lifecycle state of a PaymentRequest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// validTransitions is the single source of truth for the state machine; the
// ledger stores enforce it on every status-changing Update. Approved ->
// Rejected exists only for the system deactivation path; the admin Reject
// operation is restricted to Pending by the approval service.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:   {StatusProcessing, StatusRejected},
	StatusProcessing: {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentRequest is one payment owed to one worker for one due period.
// At most one request exists per (worker, period); the idempotency key
// uniqueness constraint enforces it.
type PaymentRequest struct {
	ID             id.PaymentID
	WorkerID       id.WorkerID
	Amount         int64 // copied from the worker at creation, immutable after
	IdempotencyKey string
	Status         Status
	Approvals      []id.AdminID
	FailureReason  string
	GatewayRef     string
	CreatedAt      time.Time
	DecidedAt      *time.Time
	ClaimedAt      *time.Time
	ProcessedAt    *time.Time
}

// HasApproval reports whether admin already approved the request.
func (p *PaymentRequest) HasApproval(admin id.AdminID) bool {
	for _, a := range p.Approvals {
		if a == admin {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand requests across goroutines
// without aliasing the store's state.
func (p *PaymentRequest) Clone() *PaymentRequest {
	cp := *p
	cp.Approvals = append([]id.AdminID(nil), p.Approvals...)
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		cp.DecidedAt = &t
	}
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		cp.ClaimedAt = &t
	}
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// PeriodLabel names the due period a payment covers: calendar month for
// monthly schedules, ISO week for weekly and bi-weekly ones. Bi-weekly
// periods stay unique because the due date advances two weeks at a time.
func PeriodLabel(freq Frequency, due time.Time) string {
	due = due.UTC()
	if freq == FrequencyMonthly {
		return due.Format("2006-01")
	}
	year, week := due.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// IdempotencyKey derives the deterministic key for a worker's payment in a
// given due period. It dedupes request creation locally and transfer
// execution at the gateway, so its determinism is the sole duplicate-payment
// guard. Do not change the format without migrating open requests.
func IdempotencyKey(workerID id.WorkerID, freq Frequency, due time.Time) string {
	return fmt.Sprintf("%s:%s", workerID, PeriodLabel(freq, due))
}
