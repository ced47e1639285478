package models

import (
	"time"

	id "payguard/pkg/domain"
)

// Action names the transition recorded by an audit entry.
type Action string

const (
	ActionPaymentCreated   Action = "payment_created"
	ActionApprovalRecorded Action = "approval_recorded"
	ActionPaymentApproved  Action = "payment_approved"
	ActionPaymentRejected  Action = "payment_rejected"
	ActionPaymentExpired   Action = "payment_expired"
	ActionPaymentClaimed   Action = "payment_claimed"
	ActionPaymentSucceeded Action = "payment_succeeded"
	ActionPaymentFailed    Action = "payment_failed"
)

// AuditEntry is one immutable record of a payment request transition.
// Entries are append-only and ordered per entity by Seq, so each request
// carries a total order of its history.
type AuditEntry struct {
	ID        int64 // global append order, assigned by the store; relay cursor
	EntityID  id.PaymentID
	Seq       int64 // assigned by the store on append, 1-based per entity
	Actor     id.AdminID
	Action    Action
	Status    Status // resulting status after the transition
	Detail    string
	SourceIP  string // empty for system actors
	Timestamp time.Time
}
